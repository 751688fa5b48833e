package display

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"file-backup-sync/internal/backup"
)

// ConsoleListener prints backup progress to a terminal or plain stream.
// On an interactive terminal it drives an in-place progress bar; otherwise
// it prints one line per finished file when verbose.
type ConsoleListener struct {
	out     io.Writer
	colors  ColorSystem
	icons   *IconSet
	bar     *ProgressBar
	verbose bool
	started time.Time

	mu      sync.Mutex
	failed  []string
	skipped map[string]bool
}

var (
	_ backup.ProgressListener = (*ConsoleListener)(nil)
	_ backup.SkipListener     = (*ConsoleListener)(nil)
)

// NewConsoleListener creates a listener writing to config.Writer
func NewConsoleListener(config *DisplayConfig) *ConsoleListener {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	colors := NewColorSystem(config.GetColorTheme(), config.Writer, config.IsColorEnabled())
	l := &ConsoleListener{
		out:     config.Writer,
		colors:  colors,
		icons:   NewIconSet(config.IsIconsEnabled()),
		verbose: config.VerboseMode,
		started: time.Now(),
		skipped: make(map[string]bool),
	}
	if config.IsProgressEnabled() && IsTerminal(config.Writer) {
		l.bar = NewProgressBar(config.Writer, colors)
	}
	return l
}

func (l *ConsoleListener) FileStarted(path string) {
	if l.bar != nil && l.verbose {
		l.bar.SetMessage(path)
	}
}

func (l *ConsoleListener) FileProgress(path string, bytesDone, bytesTotal int64) {
	if l.bar != nil {
		l.bar.SetMessage(fmt.Sprintf("%s %s/%s", path, FormatBytes(bytesDone), FormatBytes(bytesTotal)))
	}
}

// FileSkipped marks path as abandoned by cancellation. Its FileCompleted
// event is then shown as skipped, and only when verbose.
func (l *ConsoleListener) FileSkipped(path string) {
	l.mu.Lock()
	l.skipped[path] = true
	l.mu.Unlock()
}

func (l *ConsoleListener) FileCompleted(path string, success bool) {
	if !success {
		l.mu.Lock()
		skipped := l.skipped[path]
		delete(l.skipped, path)
		if !skipped {
			l.failed = append(l.failed, path)
		}
		l.mu.Unlock()

		if skipped {
			if l.verbose {
				l.println(fmt.Sprintf("%s %s", l.icons.RenderWithColor(IconSkipped, l.colors), path))
			}
			return
		}
		l.println(fmt.Sprintf("%s %s", l.icons.RenderWithColor(IconFailed, l.colors), path))
		return
	}
	if l.verbose {
		l.println(fmt.Sprintf("%s %s", l.icons.RenderWithColor(IconUploaded, l.colors), path))
	}
}

func (l *ConsoleListener) OverallProgress(filesDone, filesTotal int) {
	if l.bar != nil {
		l.bar.Update(filesDone, filesTotal, "")
	}
}

func (l *ConsoleListener) println(line string) {
	if l.bar != nil {
		l.bar.Println(line)
		return
	}
	l.mu.Lock()
	fmt.Fprintln(l.out, line)
	l.mu.Unlock()
}

// Failed returns the paths reported as failed, sorted. Files abandoned by
// cancellation are not included.
func (l *ConsoleListener) Failed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]string(nil), l.failed...)
	sort.Strings(out)
	return out
}

// Finish clears the progress bar and prints the outcome of the job
func (l *ConsoleListener) Finish(result backup.BackupResult, stats backup.JobStatsSnapshot) {
	if l.bar != nil {
		l.bar.Finish()
	}

	theme := l.colors.Theme()
	icon, clr := IconSuccess, theme.Success
	switch result.Status {
	case backup.JobStatusCancelled:
		icon, clr = IconWarning, theme.Warning
	case backup.JobStatusFailed:
		icon, clr = IconError, theme.Error
	}

	fmt.Fprintf(l.out, "%s %s\n",
		l.icons.RenderWithColor(icon, l.colors),
		l.colors.Sprintf(clr, "Backup %s: %s", result.Status, result.Message))

	bullet := l.icons.RenderWithColor(IconBullet, l.colors)
	fmt.Fprintf(l.out, "  %s %d uploaded, %d deduplicated, %d unchanged, %d skipped, %d failed\n",
		bullet, stats.FilesUploaded, stats.FilesDeduplicated, stats.FilesUnchanged, stats.FilesSkipped, stats.FilesFailed)
	fmt.Fprintf(l.out, "  %s %s read, %s stored in %s\n",
		bullet, FormatBytes(stats.BytesRead), FormatBytes(stats.BytesStored),
		time.Since(l.started).Round(time.Millisecond))
}
