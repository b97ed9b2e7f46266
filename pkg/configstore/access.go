package configstore

// Action is an operation a caller asks to perform.
type Action string

const (
	ActionRead     Action = "read"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionList     Action = "list"
	ActionRollback Action = "rollback"
	ActionExport   Action = "export"
	ActionRotate   Action = "rotate"
)

// Actions lists every Action.
var Actions = []Action{
	ActionRead, ActionCreate, ActionUpdate, ActionDelete,
	ActionList, ActionRollback, ActionExport, ActionRotate,
}

// Resource is the class of object an action applies to.
type Resource string

const (
	ResourceConfig  Resource = "config"
	ResourceSecret  Resource = "secret"
	ResourceHistory Resource = "history"
)

// Resources lists every Resource.
var Resources = []Resource{ResourceConfig, ResourceSecret, ResourceHistory}

// AccessRequest is one authorization question. Tuple.Key is empty for
// namespace-wide actions such as list and export; the whole Tuple is empty
// for rotate.
type AccessRequest struct {
	Subject  string
	Action   Action
	Resource Resource
	Tuple    Tuple
}
