// Package tree is the local mutation engine: the only code that changes
// document structure.
//
// Every primitive is all-or-nothing and reports whether it changed content.
// A false result means a structural precondition was not met (missing
// container, wrong kind, missing or duplicate key, index out of range); it
// is never an error, because concurrent edits produce such conflicts
// routinely and the merge engine resolves them by skipping.
//
// Arrays are copy-on-write so that values handed out by Get or captured in
// operations never alias live document state. Objects are updated in place.
package tree
