package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name: "default config",
			config: Config{
				Level:  LogLevelNormal,
				Format: "text",
			},
			want: LogLevelNormal,
		},
		{
			name: "verbose config",
			config: Config{
				Level:  LogLevelVerbose,
				Format: "json",
			},
			want: LogLevelVerbose,
		},
		{
			name: "quiet config",
			config: Config{
				Level:  LogLevelQuiet,
				Format: "text",
			},
			want: LogLevelQuiet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Errorf("NewLogger() error = %v", err)
				return
			}

			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  LogLevelVerbose,
		Output: &buf,
		Format: "text",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	fields := map[string]interface{}{
		"test_field": "test_value",
		"number":     42,
	}

	logger.WithFields(fields).Info("test message")

	output := buf.String()
	if !strings.Contains(output, "test_field=test_value") {
		t.Errorf("Expected output to contain test_field=test_value, got: %s", output)
	}
	if !strings.Contains(output, "number=42") {
		t.Errorf("Expected output to contain number=42, got: %s", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", output)
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  LogLevelVerbose,
		Output: &buf,
		Format: "text",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	ctx := CreateContextWithRunID(context.Background(), "run-123")
	logger.WithContext(ctx).Info("test message with context")

	output := buf.String()
	if !strings.Contains(output, "run_id=run-123") {
		t.Errorf("Expected output to contain run_id=run-123, got: %s", output)
	}
}

func TestLogTraversal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: &buf,
		Format: "text",
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogTraversal("/srv/data", 12, 4096, 20*time.Millisecond, nil)
	output := buf.String()
	if !strings.Contains(output, "Source traversal completed") {
		t.Errorf("Expected success message, got: %s", output)
	}
	if !strings.Contains(output, "file_count=12") {
		t.Errorf("Expected file_count=12, got: %s", output)
	}

	buf.Reset()

	logger.LogTraversal("/srv/missing", 0, 0, time.Millisecond, errors.New("no such directory"))
	output = buf.String()
	if !strings.Contains(output, "Source traversal failed") {
		t.Errorf("Expected failure message, got: %s", output)
	}
	if !strings.Contains(output, "no such directory") {
		t.Errorf("Expected error message, got: %s", output)
	}
}

func TestLogFileTransfer(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{
		Level:  LogLevelVerbose,
		Output: &buf,
		Format: "text",
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogFileTransfer("docs/a.txt", "uploaded", 128, 5*time.Millisecond, nil)
	output := buf.String()
	if !strings.Contains(output, "File processed") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "action=uploaded") {
		t.Errorf("Expected action=uploaded, got: %s", output)
	}

	buf.Reset()

	logger.LogFileTransfer("docs/b.txt", "upload", 0, time.Millisecond, errors.New("permission denied"))
	output = buf.String()
	if !strings.Contains(output, "File backup failed") {
		t.Errorf("Expected failure message, got: %s", output)
	}
	if !strings.Contains(output, "permission denied") {
		t.Errorf("Expected error message, got: %s", output)
	}
}

func TestLogFileTransferHiddenAtNormalLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: &buf,
		Format: "text",
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogFileTransfer("docs/a.txt", "unchanged", 10, time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("Expected no output at normal level, got: %s", buf.String())
	}
}

func TestLogJobExecution(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: &buf,
		Format: "json",
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogJobExecution("COMPLETED", 7, time.Second, nil)
	output := buf.String()
	if !strings.Contains(output, `"msg":"Backup job finished"`) {
		t.Errorf("Expected finish message, got: %s", output)
	}
	if !strings.Contains(output, `"files_total":7`) {
		t.Errorf("Expected files_total field, got: %s", output)
	}
}

func TestSetLevel(t *testing.T) {
	logger := NewDiscardLogger()

	logger.SetLevel(LogLevelVerbose)
	if logger.GetLevel() != LogLevelVerbose {
		t.Errorf("SetLevel() failed, got %v, want %v", logger.GetLevel(), LogLevelVerbose)
	}

	logger.SetLevel(LogLevelQuiet)
	if logger.GetLevel() != LogLevelQuiet {
		t.Errorf("SetLevel() failed, got %v, want %v", logger.GetLevel(), LogLevelQuiet)
	}
}

func TestIsLevelEnabled(t *testing.T) {
	tests := []struct {
		name        string
		loggerLevel LogLevel
		testLevel   LogLevel
		want        bool
	}{
		{"quiet logger, error level", LogLevelQuiet, LogLevelQuiet, true},
		{"quiet logger, normal level", LogLevelQuiet, LogLevelNormal, false},
		{"normal logger, normal level", LogLevelNormal, LogLevelNormal, true},
		{"normal logger, verbose level", LogLevelNormal, LogLevelVerbose, false},
		{"verbose logger, verbose level", LogLevelVerbose, LogLevelVerbose, true},
		{"verbose logger, debug level", LogLevelVerbose, LogLevelDebug, false},
		{"debug logger, debug level", LogLevelDebug, LogLevelDebug, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			config := Config{
				Level:  tt.loggerLevel,
				Output: &buf,
				Format: "text",
			}

			logger, err := NewLogger(config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}

			if got := logger.IsLevelEnabled(tt.testLevel); got != tt.want {
				t.Errorf("IsLevelEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  LogLevelVerbose,
		Output: &buf,
		Format: "text",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	fields := map[string]interface{}{
		"source": "/srv/data",
		"count": 100,
	}

	finishFunc := logger.LogOperationStart("test_operation", fields)

	// Check start message
	output := buf.String()
	if !strings.Contains(output, "Operation started") {
		t.Errorf("Expected start message, got: %s", output)
	}
	if !strings.Contains(output, "source=/srv/data") {
		t.Errorf("Expected source=/srv/data, got: %s", output)
	}

	// Reset buffer
	buf.Reset()

	// Test successful completion
	finishFunc(nil)
	output = buf.String()
	if !strings.Contains(output, "Operation completed") {
		t.Errorf("Expected completion message, got: %s", output)
	}
	if !strings.Contains(output, "success=true") {
		t.Errorf("Expected success=true, got: %s", output)
	}

	// Reset buffer
	buf.Reset()

	// Test failed completion
	finishFunc2 := logger.LogOperationStart("test_operation_2", fields)
	buf.Reset() // Clear start message

	testErr := errors.New("operation failed")
	finishFunc2(testErr)
	output = buf.String()
	if !strings.Contains(output, "Operation failed") {
		t.Errorf("Expected failure message, got: %s", output)
	}
	if !strings.Contains(output, "success=false") {
		t.Errorf("Expected success=false, got: %s", output)
	}
	if !strings.Contains(output, "operation failed") {
		t.Errorf("Expected error message, got: %s", output)
	}
}

func TestCreateContextWithRunID(t *testing.T) {
	ctx := context.Background()
	runID := "test-123"

	newCtx := CreateContextWithRunID(ctx, runID)

	if got := GetRunIDFromContext(newCtx); got != runID {
		t.Errorf("GetRunIDFromContext() = %v, want %v", got, runID)
	}
}

func TestGetRunIDFromContext(t *testing.T) {
	ctx := context.Background()
	if id := GetRunIDFromContext(ctx); id != "" {
		t.Errorf("GetRunIDFromContext() = %v, want empty string", id)
	}
}

func TestNewDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()
	if logger == nil {
		t.Fatal("NewDiscardLogger() returned nil")
	}
	if logger.IsLevelEnabled(LogLevelNormal) {
		t.Error("Expected discard logger to suppress info output")
	}
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "sqlite file",
			input: "file:/var/lib/backup/dedup.db?cache=shared",
			want:  "file:/var/lib/backup/dedup.db?cache=shared",
		},
		{
			name:  "mysql dsn",
			input: "backup:secret@tcp(db:3306)/dedup?parseTime=true",
			want:  "backup:***@tcp(db:3306)/dedup?parseTime=true",
		},
		{
			name:  "key value password",
			input: "host=db user=backup password=secret dbname=dedup",
			want:  "host=db user=backup password=*** dbname=dedup",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeDSN(tt.input); got != tt.want {
				t.Errorf("SanitizeDSN() = %v, want %v", got, tt.want)
			}
		})
	}
}
