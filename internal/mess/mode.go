package mess

import "fmt"

// Mode is the resolved operating context of a unit.
type Mode int

const (
	ModeLive Mode = iota
	ModeEditorStyle
	ModeEditorDev
	ModePropsInspection
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeEditorStyle:
		return "editor-style"
	case ModeEditorDev:
		return "editor-dev"
	case ModePropsInspection:
		return "props"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Embedded reports whether the unit runs inside an editor or props host.
func (m Mode) Embedded() bool {
	return m != ModeLive
}

// MarshalText lets modes render as their names in JSON and logs.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
