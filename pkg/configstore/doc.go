// Package configstore defines the public data model of cfgstore: typed
// configuration values, versioned entries, the environment enumeration and
// the error taxonomy shared by every layer.
//
// # Addressing
//
// Every configuration line is addressed by a Tuple of namespace, key and
// environment. Namespaces are slash-segmented paths such as "app/llm".
// Keys are unique within a namespace and environment.
//
//	t := configstore.NewTuple("app/llm", "model", configstore.Production)
//
// # Values
//
// Value is a closed variant over string, int, float, bool and JSON
// document. Typed accessors never coerce:
//
//	v := configstore.IntValue(42)
//	_, err := v.AsString() // ValidationError{Kind: TypeMismatch}
//
// # Versions
//
// Each write produces a new Entry with the next version number. Versions of
// a tuple are contiguous from 1. Deletes are tombstone versions and
// rollbacks are ordinary new versions carrying an older value.
//
// # Errors
//
// Errors are values carrying a kind. Match them with errors.Is against the
// package sentinels or errors.As against the concrete types:
//
//	if errors.Is(err, configstore.ErrNotFound) { ... }
//	if errors.Is(err, configstore.ErrAuthenticationFailed) { ... }
//
// A DecryptionError is never reported as a not-found condition.
package configstore
