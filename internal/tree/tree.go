package tree

import (
	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/pointer"
	"github.com/roach88/jsonsync/internal/value"
)

// Tree owns one document's content.
type Tree struct {
	content value.Value
}

// New returns a tree holding a deep copy of initial. A nil initial leaves
// the document undefined.
func New(initial value.Value) *Tree {
	return &Tree{content: value.Clone(initial)}
}

// Content returns the live root value. Callers must not mutate it; use
// Snapshot for a private copy.
func (t *Tree) Content() value.Value {
	return t.content
}

// Snapshot returns a deep copy of the content.
func (t *Tree) Snapshot() value.Value {
	return value.Clone(t.content)
}

// Get resolves p. It returns nil (undefined) when any segment cannot be
// followed. A segment addressing a string yields that single character.
func (t *Tree) Get(p pointer.Path) value.Value {
	cur := t.content
	for _, seg := range p {
		switch c := cur.(type) {
		case value.Object:
			cur = c[seg]
		case value.Array:
			i, ok := pointer.Index(seg)
			if !ok || i >= len(c) {
				return nil
			}
			cur = c[i]
		case value.String:
			runes := []rune(string(c))
			i, ok := pointer.Index(seg)
			if !ok || i >= len(runes) {
				return nil
			}
			cur = value.String(runes[i])
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Apply executes o against the content. Replace and remove record the
// displaced value in o.Was so the operation can be inverted later.
func (t *Tree) Apply(o *op.Operation) bool {
	switch o.Kind {
	case op.Add:
		return t.Add(o.Path, o.Value)
	case op.Replace:
		was, ok := t.Replace(o.Path, o.Value)
		if ok {
			o.Was = was
		}
		return ok
	case op.Remove:
		was, ok := t.Remove(o.Path, o.RemoveCount())
		if ok {
			o.Was = was
		}
		return ok
	case op.Move:
		return t.Move(o.From, o.Path)
	}
	return false
}

// Add inserts v at p.
//
// On an array, "-" appends and a numeric index inserts. On an object the
// key must not already hold a value. When the parent is a string, v must
// be a non-empty string and is spliced in at the rune index. At the root,
// Add only succeeds on undefined or null content.
func (t *Tree) Add(p pointer.Path, v value.Value) bool {
	if v == nil {
		return false
	}
	if p.IsRoot() {
		switch t.content.(type) {
		case nil, value.Null:
			t.content = value.Clone(v)
			return true
		}
		return false
	}
	key := p.Last()
	return t.update(p.Parent(), func(parent value.Value) (value.Value, bool) {
		switch c := parent.(type) {
		case value.Array:
			i := len(c)
			if key != pointer.End {
				n, ok := pointer.Index(key)
				if !ok || n > len(c) {
					return nil, false
				}
				i = n
			}
			return insertAt(c, i, value.Clone(v)), true
		case value.Object:
			if c[key] != nil {
				return nil, false
			}
			c[key] = value.Clone(v)
			return c, true
		case value.String:
			s, ok := v.(value.String)
			if !ok || s == "" {
				return nil, false
			}
			runes := []rune(string(c))
			i := len(runes)
			if key != pointer.End {
				n, ok := pointer.Index(key)
				if !ok || n > len(runes) {
					return nil, false
				}
				i = n
			}
			out := make([]rune, 0, len(runes)+s.Runes())
			out = append(out, runes[:i]...)
			out = append(out, []rune(string(s))...)
			out = append(out, runes[i:]...)
			return value.String(out), true
		}
		return nil, false
	})
}

// Replace swaps the value at p for v and returns the displaced value.
// The target must already exist. Character-level replace inside a string
// is not supported.
func (t *Tree) Replace(p pointer.Path, v value.Value) (value.Value, bool) {
	if v == nil {
		return nil, false
	}
	if p.IsRoot() {
		if t.content == nil {
			return nil, false
		}
		was := t.content
		t.content = value.Clone(v)
		return was, true
	}
	key := p.Last()
	var was value.Value
	ok := t.update(p.Parent(), func(parent value.Value) (value.Value, bool) {
		switch c := parent.(type) {
		case value.Array:
			i, ok := pointer.Index(key)
			if !ok || i >= len(c) {
				return nil, false
			}
			was = c[i]
			out := make(value.Array, len(c))
			copy(out, c)
			out[i] = value.Clone(v)
			return out, true
		case value.Object:
			if c[key] == nil {
				return nil, false
			}
			was = c[key]
			c[key] = value.Clone(v)
			return c, true
		}
		return nil, false
	})
	return was, ok
}

// Remove deletes the value at p and returns it.
//
// Objects lose the key. Arrays lose one element, the last one for "-".
// String parents lose count runes starting at the index, or the final
// count runes for "-". Removing the root leaves null behind.
func (t *Tree) Remove(p pointer.Path, count int) (value.Value, bool) {
	if count < 1 {
		count = 1
	}
	if p.IsRoot() {
		if t.content == nil {
			return nil, false
		}
		was := t.content
		t.content = value.Null{}
		return was, true
	}
	key := p.Last()
	var was value.Value
	ok := t.update(p.Parent(), func(parent value.Value) (value.Value, bool) {
		switch c := parent.(type) {
		case value.Array:
			if len(c) == 0 {
				return nil, false
			}
			i := len(c) - 1
			if key != pointer.End {
				n, ok := pointer.Index(key)
				if !ok || n >= len(c) {
					return nil, false
				}
				i = n
			}
			was = c[i]
			out := make(value.Array, 0, len(c)-1)
			out = append(out, c[:i]...)
			return append(out, c[i+1:]...), true
		case value.Object:
			if c[key] == nil {
				return nil, false
			}
			was = c[key]
			delete(c, key)
			return c, true
		case value.String:
			runes := []rune(string(c))
			i := len(runes) - count
			if key != pointer.End {
				n, ok := pointer.Index(key)
				if !ok {
					return nil, false
				}
				i = n
			}
			if i < 0 || i+count > len(runes) {
				return nil, false
			}
			was = value.String(runes[i : i+count])
			out := make([]rune, 0, len(runes)-count)
			out = append(out, runes[:i]...)
			return value.String(append(out, runes[i+count:]...)), true
		}
		return nil, false
	})
	return was, ok
}

// Move relocates the value at from to to.
//
// Either path being a prefix of the other is rejected, which covers moving
// a subtree into itself and moving onto the same location. The source is
// removed first and array indices in to are read against the shortened
// array, as in RFC 6902. If the add fails the source is restored.
func (t *Tree) Move(from, to pointer.Path) bool {
	if from.IsPrefixOf(to) || to.IsPrefixOf(from) {
		return false
	}
	moved, ok := t.Remove(from, 1)
	if !ok {
		return false
	}
	if t.Add(to, moved) {
		return true
	}
	t.Add(from, moved)
	return false
}

// update walks content along path and replaces the addressed container
// with fn's result, threading new values back up through every ancestor.
// Nothing changes unless fn succeeds.
func (t *Tree) update(path pointer.Path, fn func(parent value.Value) (value.Value, bool)) bool {
	next, ok := updateIn(t.content, path, fn)
	if !ok {
		return false
	}
	t.content = next
	return true
}

func updateIn(cur value.Value, path pointer.Path, fn func(value.Value) (value.Value, bool)) (value.Value, bool) {
	if len(path) == 0 {
		return fn(cur)
	}
	seg := path[0]
	switch c := cur.(type) {
	case value.Object:
		child := c[seg]
		if child == nil {
			return nil, false
		}
		next, ok := updateIn(child, path[1:], fn)
		if !ok {
			return nil, false
		}
		c[seg] = next
		return c, true
	case value.Array:
		i, ok := pointer.Index(seg)
		if !ok || i >= len(c) {
			return nil, false
		}
		next, ok := updateIn(c[i], path[1:], fn)
		if !ok {
			return nil, false
		}
		out := make(value.Array, len(c))
		copy(out, c)
		out[i] = next
		return out, true
	}
	return nil, false
}

func insertAt(arr value.Array, i int, v value.Value) value.Array {
	out := make(value.Array, 0, len(arr)+1)
	out = append(out, arr[:i]...)
	out = append(out, v)
	return append(out, arr[i:]...)
}
