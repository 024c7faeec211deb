package auction

// ListenType governs which broadcast notifications a player receives
// for one auction. It is a closed enum with a priority ordering:
// IGNORE < DEFAULT < FOCUS.
type ListenType string

const (
	ListenDefault ListenType = "default"
	ListenFocus   ListenType = "focus"
	ListenIgnore  ListenType = "ignore"
)

func (t ListenType) Priority() int {
	switch t {
	case ListenFocus:
		return 1
	case ListenIgnore:
		return -1
	default:
		return 0
	}
}

func (t ListenType) IsFocus() bool  { return t == ListenFocus }
func (t ListenType) IsIgnore() bool { return t == ListenIgnore }

// Entails reports whether a player with this preference receives
// announcements sent at the given level.
func (t ListenType) Entails(level ListenType) bool {
	return t.Priority() >= level.Priority()
}

// ParseListenType falls back to DEFAULT for unknown values so stale
// rows never break announcement delivery.
func ParseListenType(s string) ListenType {
	switch ListenType(s) {
	case ListenFocus:
		return ListenFocus
	case ListenIgnore:
		return ListenIgnore
	default:
		return ListenDefault
	}
}
