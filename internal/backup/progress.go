package backup

// NoopProgressListener ignores every event
type NoopProgressListener struct{}

func (NoopProgressListener) FileStarted(string)                {}
func (NoopProgressListener) FileProgress(string, int64, int64) {}
func (NoopProgressListener) FileCompleted(string, bool)        {}
func (NoopProgressListener) OverallProgress(int, int)          {}

// SkipListener is an optional extension of ProgressListener. When a started
// file is abandoned because the job was cancelled, FileSkipped is called
// right before the FileCompleted(path, false) event for the same path.
type SkipListener interface {
	FileSkipped(path string)
}
