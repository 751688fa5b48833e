package backup

import (
	"io"
	"sync"
)

// PipelineOptions selects the transform stages applied to file content
type PipelineOptions struct {
	CompressionType  CompressionType
	CompressionLevel int
	EncryptionKey    []byte
}

// PipelineOptionsFromConfig derives pipeline options from a job config
func PipelineOptionsFromConfig(config BackupConfig) PipelineOptions {
	opts := PipelineOptions{
		CompressionType:  CompressionTypeNone,
		CompressionLevel: config.CompressionLevel,
	}
	if config.CompressionEnabled {
		opts.CompressionType = config.CompressionType
	}
	if config.EncryptionEnabled {
		opts.EncryptionKey = config.EncryptionKey
	}
	return opts
}

// Pipeline transforms raw content into its stored representation:
// raw, then optional compression, then optional encryption.
type Pipeline struct {
	compressionType  CompressionType
	compressionLevel int
	compression      *CompressionManager
	encryption       *EncryptionManager
}

// NewPipeline validates opts and builds a reusable pipeline. It is safe to
// share between goroutines.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	p := &Pipeline{
		compressionType:  opts.CompressionType,
		compressionLevel: opts.CompressionLevel,
		compression:      NewCompressionManager(),
	}

	if p.compressionType == "" {
		p.compressionType = CompressionTypeNone
	}
	if p.compressionType != CompressionTypeNone {
		if _, err := p.compression.GetCompressor(p.compressionType); err != nil {
			return nil, err
		}
	}

	if opts.EncryptionKey != nil {
		em, err := NewEncryptionManager(opts.EncryptionKey)
		if err != nil {
			return nil, err
		}
		p.encryption = em
	}

	return p, nil
}

// Encrypted reports whether the encryption stage is active
func (p *Pipeline) Encrypted() bool {
	return p.encryption != nil
}

// Compressed reports whether the compression stage is active
func (p *Pipeline) Compressed() bool {
	return p.compressionType != CompressionTypeNone
}

// Apply returns a reader producing the transformed form of r. The transform
// runs in its own goroutine; closing the returned reader early stops it.
// Errors from r or from any stage surface on Read.
func (p *Pipeline) Apply(r io.Reader) io.ReadCloser {
	if !p.Compressed() && !p.Encrypted() {
		return io.NopCloser(r)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(p.transform(pw, r))
	}()
	return pr
}

func (p *Pipeline) transform(dst io.Writer, src io.Reader) error {
	var closers []io.Closer
	out := dst

	if p.encryption != nil {
		ew, err := p.encryption.NewWriter(out)
		if err != nil {
			return err
		}
		closers = append(closers, ew)
		out = ew
	}

	if p.Compressed() {
		cw, err := p.compression.NewWriter(out, p.compressionType, p.compressionLevel)
		if err != nil {
			return err
		}
		closers = append(closers, cw)
		out = cw
	}

	bufPtr := copyBufferPool.Get().(*[]byte)
	defer copyBufferPool.Put(bufPtr)

	if _, err := io.CopyBuffer(out, src, *bufPtr); err != nil {
		return err
	}

	// innermost stage first so each flush reaches the next one
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			return err
		}
	}
	return nil
}

// Invert returns a reader producing the raw content from a stream written
// by Apply with the same options.
func (p *Pipeline) Invert(r io.Reader) (io.ReadCloser, error) {
	in := r

	if p.encryption != nil {
		dr, err := p.encryption.NewReader(in)
		if err != nil {
			return nil, err
		}
		in = dr
	}

	if !p.Compressed() {
		return io.NopCloser(in), nil
	}

	return p.compression.NewReader(in, p.compressionType)
}

// countingReader counts bytes passing through it
type countingReader struct {
	reader io.Reader
	mu     sync.Mutex
	n      int64
	onRead func(total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	if n > 0 {
		c.mu.Lock()
		c.n += int64(n)
		total := c.n
		c.mu.Unlock()
		if c.onRead != nil {
			c.onRead(total)
		}
	}
	return n, err
}

func (c *countingReader) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
