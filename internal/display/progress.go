package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const defaultBarWidth = 30

// ProgressBar renders a single-line, in-place progress bar
type ProgressBar struct {
	current int
	total   int
	message string
	width   int
	writer  io.Writer
	colors  ColorSystem
	mu      sync.Mutex
}

// NewProgressBar creates a new progress bar
func NewProgressBar(writer io.Writer, colors ColorSystem) *ProgressBar {
	return &ProgressBar{
		width:  defaultBarWidth,
		writer: writer,
		colors: colors,
	}
}

// Update sets the progress and redraws the bar. An empty message keeps the
// previous one.
func (pb *ProgressBar) Update(current, total int, message string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current = current
	pb.total = total
	if message != "" {
		pb.message = message
	}
	pb.render()
}

// SetMessage replaces the trailing message and redraws the bar
func (pb *ProgressBar) SetMessage(message string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.message = message
	pb.render()
}

// Println prints a line above the bar and redraws the bar below it
func (pb *ProgressBar) Println(line string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	fmt.Fprint(pb.writer, "\r\033[K")
	fmt.Fprintln(pb.writer, line)
	pb.render()
}

// Finish clears the bar line
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	fmt.Fprint(pb.writer, "\r\033[K")
}

// SetWidth sets the width of the bar itself
func (pb *ProgressBar) SetWidth(width int) {
	pb.mu.Lock()
	pb.width = width
	pb.mu.Unlock()
}

func (pb *ProgressBar) render() {
	if pb.total <= 0 {
		return
	}
	fmt.Fprint(pb.writer, "\r\033[K"+pb.line())
}

func (pb *ProgressBar) line() string {
	current := pb.current
	if current > pb.total {
		current = pb.total
	}
	percentage := float64(current) / float64(pb.total) * 100
	filledWidth := pb.width * current / pb.total

	filled := strings.Repeat("█", filledWidth)
	empty := strings.Repeat("░", pb.width-filledWidth)
	if pb.colors != nil {
		theme := pb.colors.Theme()
		filled = pb.colors.Colorize(filled, theme.Success)
		empty = pb.colors.Colorize(empty, theme.Muted)
	}

	out := fmt.Sprintf("[%s%s] %5.1f%% (%d/%d)", filled, empty, percentage, current, pb.total)
	if pb.message != "" {
		out += " " + pb.message
	}
	return out
}

// FormatBytes renders a byte count with a binary unit suffix
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
