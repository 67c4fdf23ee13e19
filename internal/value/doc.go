// Package value defines the document content model shared by every replica.
//
// Content is a closed tagged union: Null, Bool, Number, String, Array and
// Object are the only implementations of Value. A nil Value means
// "undefined" (no value at all), which is distinct from Null.
//
// Navigation and mutation code dispatches on Kind rather than probing Go
// types, and all JSON crossing a package boundary goes through Marshal,
// Unmarshal or MarshalCanonical so that replicas agree on representation.
package value
