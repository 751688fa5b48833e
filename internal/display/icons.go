package display

import (
	"os"
)

// Icon represents a visual icon with Unicode and ASCII fallbacks
type Icon struct {
	Unicode string
	ASCII   string
	Color   Color
}

// Icon names used by the backup output
const (
	IconUploaded     = "uploaded"
	IconDeduplicated = "deduplicated"
	IconFailed       = "failed"
	IconSkipped      = "skipped"
	IconSuccess      = "success"
	IconWarning      = "warning"
	IconError        = "error"
	IconInfo         = "info"
	IconBullet       = "bullet"
)

var icons = map[string]Icon{
	IconUploaded:     {Unicode: "↑", ASCII: "+", Color: ColorGreen},
	IconDeduplicated: {Unicode: "≡", ASCII: "=", Color: ColorCyan},
	IconFailed:       {Unicode: "✗", ASCII: "x", Color: ColorRed},
	IconSkipped:      {Unicode: "↷", ASCII: "-", Color: ColorYellow},
	IconSuccess:      {Unicode: "✓", ASCII: "[OK]", Color: ColorGreen},
	IconWarning:      {Unicode: "!", ASCII: "[WARN]", Color: ColorYellow},
	IconError:        {Unicode: "✗", ASCII: "[ERR]", Color: ColorRed},
	IconInfo:         {Unicode: "i", ASCII: "[INFO]", Color: ColorBlue},
	IconBullet:       {Unicode: "•", ASCII: "*", Color: ColorWhite},
}

// IconSet renders icons with or without Unicode glyphs
type IconSet struct {
	unicode bool
}

// NewIconSet creates an icon set. Unicode glyphs are used only when enabled
// and the environment does not rule them out.
func NewIconSet(enabled bool) *IconSet {
	return &IconSet{unicode: enabled && detectUnicodeSupport()}
}

func detectUnicodeSupport() bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	term := os.Getenv("TERM")
	return term != "dumb" && term != "vt100"
}

// Get returns the icon for name, or a placeholder for unknown names
func (s *IconSet) Get(name string) Icon {
	if icon, ok := icons[name]; ok {
		return icon
	}
	return Icon{Unicode: "?", ASCII: "?", Color: ColorWhite}
}

// Render returns the Unicode or ASCII form of the icon
func (s *IconSet) Render(name string) string {
	icon := s.Get(name)
	if s.unicode {
		return icon.Unicode
	}
	return icon.ASCII
}

// RenderWithColor returns the icon colorized by colors
func (s *IconSet) RenderWithColor(name string, colors ColorSystem) string {
	return colors.Colorize(s.Render(name), s.Get(name).Color)
}

// UnicodeEnabled reports whether Unicode glyphs are rendered
func (s *IconSet) UnicodeEnabled() bool {
	return s.unicode
}
