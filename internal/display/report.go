package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// Report is a titled set of sections rendered as text, or the Data value
// rendered as JSON or YAML.
type Report struct {
	Title    string
	Sections []*ReportSection
	Data     interface{}
}

// ReportSection is a block of key/value fields followed by bullet items
type ReportSection struct {
	Title  string
	Fields []Field
	Items  []string
}

// Field is one aligned key/value line
type Field struct {
	Key   string
	Value string
	Color Color
}

// AddSection appends a section and returns it for chaining
func (r *Report) AddSection(title string) *ReportSection {
	s := &ReportSection{Title: title}
	r.Sections = append(r.Sections, s)
	return s
}

// Add appends a plain field
func (s *ReportSection) Add(key string, value interface{}) *ReportSection {
	s.Fields = append(s.Fields, Field{Key: key, Value: fmt.Sprint(value)})
	return s
}

// AddColored appends a field rendered in clr
func (s *ReportSection) AddColored(key string, value interface{}, clr Color) *ReportSection {
	s.Fields = append(s.Fields, Field{Key: key, Value: fmt.Sprint(value), Color: clr})
	return s
}

// AddItem appends a bullet item
func (s *ReportSection) AddItem(item string) *ReportSection {
	s.Items = append(s.Items, item)
	return s
}

// ReportWriter renders reports in the configured format
type ReportWriter struct {
	writer io.Writer
	format OutputFormat
	colors ColorSystem
	icons  *IconSet
}

// NewReportWriter creates a report writer from the display configuration
func NewReportWriter(config *DisplayConfig) *ReportWriter {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()
	return &ReportWriter{
		writer: config.Writer,
		format: OutputFormat(config.OutputFormat),
		colors: NewColorSystem(config.GetColorTheme(), config.Writer, config.IsColorEnabled()),
		icons:  NewIconSet(config.IsIconsEnabled()),
	}
}

// Write renders report
func (rw *ReportWriter) Write(report *Report) error {
	switch rw.format {
	case FormatJSON:
		data, err := json.MarshalIndent(report.Data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report to JSON: %w", err)
		}
		_, err = fmt.Fprintln(rw.writer, string(data))
		return err
	case FormatYAML:
		encoder := yaml.NewEncoder(rw.writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(report.Data); err != nil {
			return fmt.Errorf("failed to marshal report to YAML: %w", err)
		}
		return encoder.Close()
	case FormatTable, "":
		rw.writeText(report)
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", rw.format)
	}
}

func (rw *ReportWriter) writeText(report *Report) {
	theme := rw.colors.Theme()
	if report.Title != "" {
		fmt.Fprintln(rw.writer, rw.colors.Colorize(report.Title, theme.Highlight))
		fmt.Fprintln(rw.writer, strings.Repeat("=", len(report.Title)))
	}

	for i, section := range report.Sections {
		if i > 0 || report.Title != "" {
			fmt.Fprintln(rw.writer)
		}
		fmt.Fprintln(rw.writer, rw.colors.Colorize(section.Title, theme.Primary))

		width := 0
		for _, f := range section.Fields {
			if len(f.Key) > width {
				width = len(f.Key)
			}
		}
		for _, f := range section.Fields {
			value := f.Value
			if f.Color != ColorReset {
				value = rw.colors.Colorize(value, f.Color)
			}
			fmt.Fprintf(rw.writer, "  %-*s  %s\n", width+1, f.Key+":", value)
		}

		bullet := rw.icons.RenderWithColor(IconBullet, rw.colors)
		for _, item := range section.Items {
			fmt.Fprintf(rw.writer, "  %s %s\n", bullet, item)
		}
	}
}

// Colors returns the color system used for text output
func (rw *ReportWriter) Colors() ColorSystem {
	return rw.colors
}
