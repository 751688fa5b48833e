package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// ColorSystem applies theme colors to text written to one output
type ColorSystem interface {
	Colorize(text string, color Color) string
	Sprintf(color Color, format string, args ...interface{}) string
	IsColorSupported() bool
	Theme() ColorTheme
}

type colorSystem struct {
	theme          ColorTheme
	colorSupported bool
	colorMap       map[Color]*color.Color
}

// NewColorSystem creates a color system for out. Colors are used only when
// enabled is set and out is a color-capable terminal.
func NewColorSystem(theme ColorTheme, out io.Writer, enabled bool) ColorSystem {
	cs := &colorSystem{
		theme:          theme,
		colorSupported: enabled && detectColorSupport(out),
	}
	cs.initializeColorMap()
	return cs
}

// IsTerminal reports whether out is an interactive terminal
func IsTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func detectColorSupport(out io.Writer) bool {
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if !IsTerminal(out) {
		return false
	}
	return termenv.NewOutput(out).Profile != termenv.Ascii
}

func (cs *colorSystem) initializeColorMap() {
	cs.colorMap = map[Color]*color.Color{
		ColorBlack:         color.New(color.FgBlack),
		ColorRed:           color.New(color.FgRed),
		ColorGreen:         color.New(color.FgGreen),
		ColorYellow:        color.New(color.FgYellow),
		ColorBlue:          color.New(color.FgBlue),
		ColorMagenta:       color.New(color.FgMagenta),
		ColorCyan:          color.New(color.FgCyan),
		ColorWhite:         color.New(color.FgWhite),
		ColorBrightRed:     color.New(color.FgHiRed),
		ColorBrightGreen:   color.New(color.FgHiGreen),
		ColorBrightYellow:  color.New(color.FgHiYellow),
		ColorBrightBlue:    color.New(color.FgHiBlue),
		ColorBrightMagenta: color.New(color.FgHiMagenta),
		ColorBrightCyan:    color.New(color.FgHiCyan),
		ColorBrightWhite:   color.New(color.FgHiWhite),
	}

	// fatih/color consults its global NoColor switch, which is derived from
	// os.Stdout only; the per-output decision is made here instead.
	for _, c := range cs.colorMap {
		if cs.colorSupported {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Colorize applies color to text if color is supported
func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.colorSupported {
		return text
	}
	if c, ok := cs.colorMap[clr]; ok {
		return c.Sprint(text)
	}
	return text
}

// Sprintf formats text with color using format string
func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// IsColorSupported returns whether colors are supported
func (cs *colorSystem) IsColorSupported() bool {
	return cs.colorSupported
}

// Theme returns the active color theme
func (cs *colorSystem) Theme() ColorTheme {
	return cs.theme
}
