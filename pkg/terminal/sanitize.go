package terminal

// SanitizeTerm maps exotic terminal identifiers to xterm-256color so
// in-container programs do not hit missing terminfo entries. Values the
// container plausibly knows pass through unchanged.
func SanitizeTerm(term string) string {
	switch term {
	case "xterm-ghostty", "ghostty",
		"wezterm",
		"alacritty",
		"xterm-kitty", "kitty",
		"tmux-256color",
		"screen-256color":
		return "xterm-256color"
	case "":
		return "xterm-256color"
	}
	return term
}
