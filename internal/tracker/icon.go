package tracker

// Icon is what the badge of a tab should show.
type Icon struct {
	Pattern string
	Tooltip string
	Scheme  string
}

// IconRenderer draws a tab's badge.
type IconRenderer interface {
	RenderIcon(tab string, icon Icon)
}

type iconForgetter interface {
	ForgetIcon(tab string)
}

// ColorSchemes maps the tab kind to a configured badge color scheme.
type ColorSchemes struct {
	Regular   string
	Incognito string
}
