// Package access holds the permission model: ordered levels, grants and
// the resolution of an effective level from every grant source.
package access

import (
	"fmt"
	"strings"
)

// Level is an ordered access level. A higher level implies every lower one.
type Level int

// Levels in ascending order.
const (
	None Level = iota
	View
	Download
	Edit
	Manage
)

var levelNames = [...]string{"none", "view", "download", "edit", "manage"}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return None, fmt.Errorf("unknown access level %q", s)
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool { return l >= None && l <= Manage }

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Satisfies reports whether l is sufficient for the required level.
func (l Level) Satisfies(required Level) bool { return l >= required }

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid access level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Action is an operation a principal attempts on a document.
type Action string

// Actions and the level each one requires.
const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
	ActionEdit     Action = "edit"
	ActionManage   Action = "manage"
)

// Required returns the minimum level the action needs.
func (a Action) Required() (Level, error) {
	switch a {
	case ActionView:
		return View, nil
	case ActionDownload:
		return Download, nil
	case ActionEdit:
		return Edit, nil
	case ActionManage:
		return Manage, nil
	default:
		return None, fmt.Errorf("unknown action %q", string(a))
	}
}
