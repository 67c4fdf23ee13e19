// Package pointer converts between JSON-Pointer strings and key lists.
//
// A Path is the sequence of keys and indices from the document root.
// The empty path addresses the whole document. Array indices stay in their
// decimal string form; "-" addresses the end of an array or string.
package pointer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPointer is wrapped by every Parse failure.
var ErrInvalidPointer = errors.New("invalid JSON pointer")

// End is the segment that addresses one past the last element.
const End = "-"

// Path is a parsed JSON pointer.
type Path []string

// Parse converts a pointer such as "/a/b~1c" into a Path.
// The empty string is the root. Any other pointer must start with '/'.
func Parse(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	if s[0] != '/' {
		return nil, fmt.Errorf("%w: %q does not start with '/'", ErrInvalidPointer, s)
	}
	parts := strings.Split(s[1:], "/")
	out := make(Path, len(parts))
	for i, p := range parts {
		if err := checkEscapes(p); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPointer, s, err)
		}
		// ~1 first, ~0 last, so "~01" decodes to "~1" rather than "/".
		out[i] = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
	}
	return out, nil
}

// MustParse is Parse for constant pointers.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func checkEscapes(seg string) error {
	for i := 0; i < len(seg); i++ {
		if seg[i] != '~' {
			continue
		}
		if i+1 >= len(seg) || (seg[i+1] != '0' && seg[i+1] != '1') {
			return fmt.Errorf("dangling '~' at offset %d", i)
		}
	}
	return nil
}

// Format converts a Path back to pointer form.
func Format(p Path) string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	for _, seg := range p {
		b.WriteByte('/')
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(seg, "~", "~0"), "/", "~1"))
	}
	return b.String()
}

// String implements fmt.Stringer.
func (p Path) String() string {
	return Format(p)
}

// IsRoot reports whether p addresses the whole document.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Parent returns all segments but the last. The root's parent is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1]
}

// Last returns the final segment, or "" for the root.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Clone returns an independent copy.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Equal reports segment-wise equality.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether every segment of p leads other.
// A path is a prefix of itself.
func (p Path) IsPrefixOf(other Path) bool {
	if len(p) > len(other) {
		return false
	}
	return p.Equal(other[:len(p)])
}

// Index interprets seg as an array or string index.
// The end marker and non-numeric segments report ok=false.
func Index(seg string) (int, bool) {
	if seg == "" || seg == End {
		return 0, false
	}
	if len(seg) > 1 && seg[0] == '0' {
		return 0, false
	}
	n, err := strconv.Atoi(seg)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// MarshalText implements encoding.TextMarshaler so paths travel as
// pointer strings in JSON and YAML.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(Format(p)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
