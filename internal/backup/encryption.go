package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Encrypted stream layout:
//
//	"FBS1" | salt (16) | nonce prefix (8) | frame*
//	frame = uint32 big endian length | AES-256-GCM sealed chunk
//
// Each chunk holds at most 64 KiB of plaintext. The nonce is the prefix
// followed by a big endian chunk counter, and the additional data flags the
// last frame so a truncated stream fails to authenticate.
const (
	streamMagic             = "FBS1"
	streamSaltSize          = 16
	streamNoncePrefixSize   = 8
	encryptionChunkSize     = 64 * 1024
	encryptionKeySize       = 32
	keyDerivationIterations = 100000
)

var (
	frameAdditionalData = []byte{0}
	finalAdditionalData = []byte{1}
)

// EncryptionManager seals and opens backup streams with AES-256-GCM
type EncryptionManager struct {
	key []byte
}

// NewEncryptionManager creates an encryption manager for key. A key of
// exactly 32 bytes is used directly; anything else is treated as a
// passphrase and stretched with PBKDF2 using a per-stream salt.
func NewEncryptionManager(key []byte) (*EncryptionManager, error) {
	if len(key) == 0 {
		return nil, NewConfigurationError("encryption key is empty", nil)
	}
	return &EncryptionManager{key: append([]byte(nil), key...)}, nil
}

// GetAlgorithm returns the encryption algorithm being used
func (em *EncryptionManager) GetAlgorithm() string {
	return "AES-256-GCM"
}

func (em *EncryptionManager) newAEAD(salt []byte) (cipher.AEAD, error) {
	key := em.key
	if len(key) != encryptionKeySize {
		key = pbkdf2.Key(em.key, salt, keyDerivationIterations, encryptionKeySize, sha256.New)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

// NewWriter returns a writer that encrypts into w. Close must be called to
// emit the final frame; it does not close w.
func (em *EncryptionManager) NewWriter(w io.Writer) (io.WriteCloser, error) {
	header := make([]byte, len(streamMagic)+streamSaltSize+streamNoncePrefixSize)
	copy(header, streamMagic)
	if _, err := io.ReadFull(rand.Reader, header[len(streamMagic):]); err != nil {
		return nil, NewEncryptionError("failed to generate salt and nonce", err)
	}

	salt := header[len(streamMagic) : len(streamMagic)+streamSaltSize]
	gcm, err := em.newAEAD(salt)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(header); err != nil {
		return nil, NewEncryptionError("failed to write stream header", err)
	}

	sw := &sealWriter{
		dst:   w,
		gcm:   gcm,
		buf:   make([]byte, 0, encryptionChunkSize),
		nonce: make([]byte, gcm.NonceSize()),
	}
	copy(sw.nonce, header[len(streamMagic)+streamSaltSize:])
	return sw, nil
}

// NewReader returns a reader that decrypts r. It fails with a corruption
// error on tampered, truncated, or trailing data.
func (em *EncryptionManager) NewReader(r io.Reader) (io.Reader, error) {
	header := make([]byte, len(streamMagic)+streamSaltSize+streamNoncePrefixSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, NewCorruptionError("failed to read stream header", err)
	}
	if string(header[:len(streamMagic)]) != streamMagic {
		return nil, NewCorruptionError("not an encrypted backup stream", nil)
	}

	gcm, err := em.newAEAD(header[len(streamMagic) : len(streamMagic)+streamSaltSize])
	if err != nil {
		return nil, err
	}

	or := &openReader{
		src:   r,
		gcm:   gcm,
		nonce: make([]byte, gcm.NonceSize()),
	}
	copy(or.nonce, header[len(streamMagic)+streamSaltSize:])
	return or, nil
}

// Encrypt seals an in-memory buffer using the stream format
func (em *EncryptionManager) Encrypt(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := em.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decrypt opens an in-memory buffer produced by Encrypt
func (em *EncryptionManager) Decrypt(data []byte) ([]byte, error) {
	r, err := em.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func setNonceCounter(nonce []byte, counter uint32) {
	binary.BigEndian.PutUint32(nonce[streamNoncePrefixSize:], counter)
}

type sealWriter struct {
	dst     io.Writer
	gcm     cipher.AEAD
	buf     []byte
	nonce   []byte
	counter uint64
	closed  bool
	err     error
}

func (w *sealWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, NewEncryptionError("write to closed encryption stream", nil)
	}

	written := 0
	for len(p) > 0 {
		// A full buffer is sealed only once more data arrives, so the last
		// chunk is always left for Close to mark as final.
		if len(w.buf) == encryptionChunkSize {
			if err := w.seal(false); err != nil {
				return written, err
			}
		}
		n := copy(w.buf[len(w.buf):encryptionChunkSize], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		written += n
	}
	return written, nil
}

func (w *sealWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	return w.seal(true)
}

func (w *sealWriter) seal(final bool) error {
	if w.counter > math.MaxUint32 {
		w.err = NewEncryptionError("encryption stream too long", nil)
		return w.err
	}
	setNonceCounter(w.nonce, uint32(w.counter))

	ad := frameAdditionalData
	if final {
		ad = finalAdditionalData
	}

	frame := make([]byte, 4, 4+len(w.buf)+w.gcm.Overhead())
	frame = w.gcm.Seal(frame, w.nonce, w.buf, ad)
	binary.BigEndian.PutUint32(frame[:4], uint32(len(frame)-4))

	if _, err := w.dst.Write(frame); err != nil {
		w.err = NewEncryptionError("failed to write encrypted frame", err)
		return w.err
	}

	w.counter++
	w.buf = w.buf[:0]
	return nil
}

type openReader struct {
	src     io.Reader
	gcm     cipher.AEAD
	nonce   []byte
	counter uint64
	plain   []byte
	final   bool
	err     error
}

func (r *openReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.final {
			r.err = r.expectEOF()
			continue
		}
		r.err = r.nextFrame()
	}

	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *openReader) nextFrame() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.src, lenBuf[:]); err != nil {
		if err == io.EOF {
			return NewCorruptionError("encrypted stream truncated", io.ErrUnexpectedEOF)
		}
		return NewCorruptionError("failed to read frame length", err)
	}

	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen < uint32(r.gcm.Overhead()) || frameLen > uint32(encryptionChunkSize+r.gcm.Overhead()) {
		return NewCorruptionError(fmt.Sprintf("invalid frame length %d", frameLen), nil)
	}

	sealed := make([]byte, frameLen)
	if _, err := io.ReadFull(r.src, sealed); err != nil {
		return NewCorruptionError("failed to read frame", err)
	}

	if r.counter > math.MaxUint32 {
		return NewCorruptionError("encrypted stream too long", nil)
	}
	setNonceCounter(r.nonce, uint32(r.counter))

	plain, err := r.gcm.Open(nil, r.nonce, sealed, frameAdditionalData)
	if err != nil {
		plain, err = r.gcm.Open(nil, r.nonce, sealed, finalAdditionalData)
		if err != nil {
			return NewCorruptionError("failed to authenticate frame", err)
		}
		r.final = true
	}

	r.counter++
	r.plain = plain
	return nil
}

func (r *openReader) expectEOF() error {
	var probe [1]byte
	n, err := io.ReadFull(r.src, probe[:])
	if n > 0 {
		return NewCorruptionError("unexpected data after final frame", nil)
	}
	if err == io.EOF {
		return io.EOF
	}
	return NewCorruptionError("failed to read stream trailer", err)
}

// KeyManager handles encryption key operations
type KeyManager struct{}

// NewKeyManager creates a new key manager
func NewKeyManager() *KeyManager {
	return &KeyManager{}
}

// GenerateKey generates a new 256-bit encryption key
func (km *KeyManager) GenerateKey() ([]byte, error) {
	key := make([]byte, encryptionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

// DeriveKeyFromPassphrase derives a 256-bit key using PBKDF2-SHA256
func (km *KeyManager) DeriveKeyFromPassphrase(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, keyDerivationIterations, encryptionKeySize, sha256.New)
}

// SaveKeyToFile writes a hex encoded key with owner-only permissions
func (km *KeyManager) SaveKeyToFile(key []byte, path string) error {
	if err := km.ValidateKey(key); err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return NewEncryptionError("failed to save key to file", err)
	}

	return nil
}

// LoadKeyFromFile loads a key from a file holding either 32 raw bytes or
// their hex encoding.
func (km *KeyManager) LoadKeyFromFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEncryptionError("failed to read key from file", err)
	}

	if len(data) == encryptionKeySize {
		return data, nil
	}

	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, NewEncryptionError("key file must contain 32 raw bytes or 64 hex characters", err)
	}
	if len(key) != encryptionKeySize {
		return nil, NewEncryptionError("key file must contain 32 bytes for AES-256", nil)
	}

	return key, nil
}

// LoadKeyFromEnv loads an encryption key from an environment variable (hex-encoded)
func (km *KeyManager) LoadKeyFromEnv(envVar string) ([]byte, error) {
	hexKey := os.Getenv(envVar)
	if hexKey == "" {
		return nil, NewEncryptionError(fmt.Sprintf("environment variable %s not set", envVar), nil)
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, NewEncryptionError("failed to decode hex key from environment variable", err)
	}

	if len(key) != encryptionKeySize {
		return nil, NewEncryptionError("key from environment variable must be 32 bytes for AES-256", nil)
	}

	return key, nil
}

// ValidateKey validates that a key is suitable for AES-256
func (km *KeyManager) ValidateKey(key []byte) error {
	if len(key) != encryptionKeySize {
		return NewEncryptionError("key must be 32 bytes for AES-256", nil)
	}

	allZeros := true
	allOnes := true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}

	if allZeros {
		return NewEncryptionError("key cannot be all zeros", nil)
	}
	if allOnes {
		return NewEncryptionError("key cannot be all ones", nil)
	}

	return nil
}
