package configstore

import (
	"fmt"
	"time"
)

// Tuple addresses one line of version history.
type Tuple struct {
	Namespace   string      `json:"namespace"`
	Key         string      `json:"key"`
	Environment Environment `json:"environment"`
}

// NewTuple is a convenience constructor.
func NewTuple(namespace, key string, env Environment) Tuple {
	return Tuple{Namespace: namespace, Key: key, Environment: env}
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s/%s@%s", t.Namespace, t.Key, t.Environment)
}

// CacheKey is a stable composite key. The separator cannot appear in a
// validated namespace or key.
func (t Tuple) CacheKey() string {
	return t.Environment.String() + ":" + t.Namespace + ":" + t.Key
}

// Entry is one version of a tuple. Secret entries hold Ciphertext at rest
// and carry the decrypted Value only after the manager opens them.
type Entry struct {
	Namespace   string      `json:"namespace"`
	Key         string      `json:"key"`
	Environment Environment `json:"environment"`
	Value       Value       `json:"value"`
	IsSecret    bool        `json:"is_secret"`
	Ciphertext  []byte      `json:"ciphertext,omitempty"`
	KeyID       string      `json:"key_id,omitempty"`
	Tombstone   bool        `json:"tombstone,omitempty"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Author      string      `json:"author"`
	Description string      `json:"description,omitempty"`

	// Redacted is set on entries returned to callers not entitled to see
	// a secret value. It is never persisted as true.
	Redacted bool `json:"redacted,omitempty"`
}

func (e *Entry) Tuple() Tuple {
	return Tuple{Namespace: e.Namespace, Key: e.Key, Environment: e.Environment}
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Ciphertext != nil {
		c.Ciphertext = append([]byte(nil), e.Ciphertext...)
	}
	return &c
}

// Redact returns a copy without the value or ciphertext.
func (e *Entry) Redact() *Entry {
	c := e.Clone()
	c.Value = Value{}
	c.Ciphertext = nil
	c.Redacted = true
	return c
}
