package mess

// Window is the browsing context the unit runs in.
//
// Listen must deliver messages asynchronously: the handler may run on any
// goroutine, but never from inside the Listen call itself.
type Window interface {
	// Name is the window's declared identity (window.name in a browser).
	Name() string
	// PostToParent posts msg to the top-level host window.
	PostToParent(msg Outbound) error
	// Open opens url in a new browsing context.
	Open(url string) error
	// Listen subscribes to raw inbound message payloads until stop is called.
	Listen(handler func(raw []byte)) (stop func())
}

// Identities are the window names that select an embedded mode. Any other
// name means the unit is served live.
type Identities struct {
	Dev   string
	Style string
	Props string
}

// DefaultIdentities returns the names used by the MESS editor.
func DefaultIdentities() Identities {
	return Identities{
		Dev:   "mess-dev",
		Style: "mess-style",
		Props: "props-handler",
	}
}

// IsEditor reports whether name is one of the two editor identities.
func (i Identities) IsEditor(name string) bool {
	return name != "" && (name == i.Dev || name == i.Style)
}

// IsProps reports whether name is the properties-inspection identity.
func (i Identities) IsProps(name string) bool {
	return name != "" && name == i.Props
}

// Recognized reports whether name selects any embedded mode.
func (i Identities) Recognized(name string) bool {
	return i.IsEditor(name) || i.IsProps(name)
}
