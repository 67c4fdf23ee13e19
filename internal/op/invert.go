package op

import "github.com/roach88/jsonsync/internal/value"

// Invert returns the operation that undoes o, keeping o's mark and
// flipping the inverted flag. It reports false when o carries too little
// information to be undone, such as a remove that never captured Was.
func Invert(o Operation) (Operation, bool) {
	inv := Operation{
		Path:     o.Path.Clone(),
		Mark:     o.Mark.Clone(),
		Inverted: !o.Inverted,
	}
	switch o.Kind {
	case Add:
		if o.Value == nil {
			return Operation{}, false
		}
		inv.Kind = Remove
		inv.Was = value.Clone(o.Value)
		if s, ok := o.Value.(value.String); ok {
			inv.Count = s.Runes()
		}
	case Remove:
		if o.Was == nil {
			return Operation{}, false
		}
		inv.Kind = Add
		inv.Value = value.Clone(o.Was)
	case Replace:
		if o.Was == nil || o.Value == nil {
			return Operation{}, false
		}
		inv.Kind = Replace
		inv.Value = value.Clone(o.Was)
		inv.Was = value.Clone(o.Value)
	case Move:
		inv.Kind = Move
		inv.From = o.Path.Clone()
		inv.Path = o.From.Clone()
	default:
		return Operation{}, false
	}
	return inv, true
}
