package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

// Fingerprint is the lowercase hex SHA-256 digest of a file's content
type Fingerprint string

// FingerprintLength is the length of a hex encoded fingerprint
const FingerprintLength = sha256.Size * 2

// IsValid reports whether f looks like a hex encoded SHA-256 digest
func (f Fingerprint) IsValid() bool {
	if len(f) != FingerprintLength {
		return false
	}
	for _, c := range f {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Short returns an abbreviated form for log output
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

func (f Fingerprint) String() string {
	return string(f)
}

const copyBufferSize = 64 * 1024

var copyBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, copyBufferSize)
		return &buf
	},
}

// ComputeFingerprint streams r to completion and returns its digest and the
// number of bytes read. Nothing beyond the copy buffer is retained.
func ComputeFingerprint(r io.Reader) (Fingerprint, int64, error) {
	hasher := sha256.New()

	bufPtr := copyBufferPool.Get().(*[]byte)
	defer copyBufferPool.Put(bufPtr)

	n, err := io.CopyBuffer(hasher, r, *bufPtr)
	if err != nil {
		return "", n, NewSourceError("failed to read content for fingerprint", err)
	}

	return Fingerprint(hex.EncodeToString(hasher.Sum(nil))), n, nil
}

// FingerprintFile computes the fingerprint of the file at path
func FingerprintFile(path string) (Fingerprint, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, NewSourceError(fmt.Sprintf("failed to open %s", path), err)
	}
	defer file.Close()

	return ComputeFingerprint(file)
}
