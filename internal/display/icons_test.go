package display

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIconSet_Render(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		enabled bool
		icon    string
		want    string
	}{
		{name: "forced unicode", env: map[string]string{"FORCE_UNICODE": "1"}, enabled: true, icon: IconSuccess, want: "✓"},
		{name: "unicode disabled by env", env: map[string]string{"NO_UNICODE": "1"}, enabled: true, icon: IconSuccess, want: "[OK]"},
		{name: "icons disabled", env: map[string]string{"FORCE_UNICODE": "1"}, enabled: false, icon: IconFailed, want: "x"},
		{name: "C locale", env: map[string]string{"LANG": "C"}, enabled: true, icon: IconWarning, want: "[WARN]"},
		{name: "unknown icon", env: map[string]string{"NO_UNICODE": "1"}, enabled: true, icon: "nope", want: "?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"FORCE_UNICODE", "NO_UNICODE", "LANG", "LC_ALL"} {
				t.Setenv(key, tt.env[key])
			}
			set := NewIconSet(tt.enabled)
			assert.Equal(t, tt.want, set.Render(tt.icon))
		})
	}
}

func TestIconSet_RenderWithColor(t *testing.T) {
	t.Setenv("NO_UNICODE", "1")
	t.Setenv("FORCE_COLOR", "")

	set := NewIconSet(true)
	assert.False(t, set.UnicodeEnabled())

	colors := NewColorSystem(DarkColorTheme(), &bytes.Buffer{}, true)
	assert.Equal(t, "[ERR]", set.RenderWithColor(IconError, colors))
}
