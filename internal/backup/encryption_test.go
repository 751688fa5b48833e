package backup

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := NewKeyManager().GenerateKey()
	require.NoError(t, err)
	return key
}

func TestNewEncryptionManager(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"raw 32 byte key", bytes.Repeat([]byte{7}, 32), false},
		{"passphrase", []byte("a passphrase of any length"), false},
		{"empty key", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em, err := NewEncryptionManager(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				var backupErr *BackupError
				require.ErrorAs(t, err, &backupErr)
				assert.Equal(t, BackupErrorTypeConfiguration, backupErr.Type)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "AES-256-GCM", em.GetAlgorithm())
		})
	}
}

func TestEncryptionManager_RoundTrip(t *testing.T) {
	sizes := []int{
		0,
		1,
		encryptionChunkSize - 1,
		encryptionChunkSize,
		encryptionChunkSize + 1,
		3*encryptionChunkSize + 17,
	}

	keys := map[string][]byte{
		"raw":        testKey(t),
		"passphrase": []byte("correct horse battery staple"),
	}

	for keyName, key := range keys {
		em, err := NewEncryptionManager(key)
		require.NoError(t, err)

		for _, size := range sizes {
			data := make([]byte, size)
			_, err := rand.Read(data)
			require.NoError(t, err)

			encrypted, err := em.Encrypt(data)
			require.NoError(t, err, "%s/%d", keyName, size)
			assert.Equal(t, streamMagic, string(encrypted[:len(streamMagic)]))

			decrypted, err := em.Decrypt(encrypted)
			require.NoError(t, err, "%s/%d", keyName, size)
			assert.True(t, bytes.Equal(data, decrypted), "%s/%d round trip mismatch", keyName, size)
		}
	}
}

func TestEncryptionManager_UniquePerStream(t *testing.T) {
	em, err := NewEncryptionManager(testKey(t))
	require.NoError(t, err)

	data := []byte("same plaintext")
	first, err := em.Encrypt(data)
	require.NoError(t, err)
	second, err := em.Encrypt(data)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "salt and nonce prefix must differ per stream")
}

func TestEncryptionManager_WrongKey(t *testing.T) {
	em, err := NewEncryptionManager(testKey(t))
	require.NoError(t, err)
	other, err := NewEncryptionManager(testKey(t))
	require.NoError(t, err)

	encrypted, err := em.Encrypt([]byte("secret payload"))
	require.NoError(t, err)

	_, err = other.Decrypt(encrypted)
	require.Error(t, err)
	var backupErr *BackupError
	require.ErrorAs(t, err, &backupErr)
	assert.Equal(t, BackupErrorTypeCorruption, backupErr.Type)
}

func TestEncryptionManager_Tampering(t *testing.T) {
	em, err := NewEncryptionManager(testKey(t))
	require.NoError(t, err)

	data := bytes.Repeat([]byte("tamper "), encryptionChunkSize/3)
	encrypted, err := em.Encrypt(data)
	require.NoError(t, err)

	headerLen := len(streamMagic) + streamSaltSize + streamNoncePrefixSize

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{
			name: "flipped ciphertext bit",
			mutate: func(b []byte) []byte {
				b[headerLen+10] ^= 0x01
				return b
			},
		},
		{
			name: "bad magic",
			mutate: func(b []byte) []byte {
				b[0] = 'X'
				return b
			},
		},
		{
			name: "truncated mid frame",
			mutate: func(b []byte) []byte {
				return b[:len(b)-5]
			},
		},
		{
			name: "final frame dropped",
			mutate: func(b []byte) []byte {
				return b[:headerLen+4+encryptionChunkSize+16]
			},
		},
		{
			name: "trailing garbage",
			mutate: func(b []byte) []byte {
				return append(b, 0xAA)
			},
		},
		{
			name: "header only",
			mutate: func(b []byte) []byte {
				return b[:headerLen]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := tt.mutate(append([]byte(nil), encrypted...))
			_, err := em.Decrypt(mutated)
			require.Error(t, err)
			var backupErr *BackupError
			require.ErrorAs(t, err, &backupErr)
			assert.Equal(t, BackupErrorTypeCorruption, backupErr.Type)
		})
	}
}

func TestEncryptionManager_StreamingWriter(t *testing.T) {
	em, err := NewEncryptionManager(testKey(t))
	require.NoError(t, err)

	data := make([]byte, 5*encryptionChunkSize/2)
	_, err = rand.Read(data)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := em.NewWriter(&buf)
	require.NoError(t, err)
	for off := 0; off < len(data); off += 1000 {
		end := off + 1000
		if end > len(data) {
			end = len(data)
		}
		_, err := w.Write(data[off:end])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.Error(t, err, "writes after Close must fail")

	r, err := em.NewReader(&buf)
	require.NoError(t, err)

	// small reads exercise the frame buffering
	out, err := io.ReadAll(io.LimitReader(r, int64(len(data))+1))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestKeyManager_GenerateKey(t *testing.T) {
	km := NewKeyManager()

	key1, err := km.GenerateKey()
	require.NoError(t, err)
	key2, err := km.GenerateKey()
	require.NoError(t, err)

	assert.Len(t, key1, 32)
	assert.NotEqual(t, key1, key2)
	assert.NoError(t, km.ValidateKey(key1))
}

func TestKeyManager_DeriveKeyFromPassphrase(t *testing.T) {
	km := NewKeyManager()
	salt := []byte("0123456789abcdef")

	key1 := km.DeriveKeyFromPassphrase("passphrase", salt)
	key2 := km.DeriveKeyFromPassphrase("passphrase", salt)
	key3 := km.DeriveKeyFromPassphrase("passphrase", []byte("fedcba9876543210"))

	assert.Len(t, key1, 32)
	assert.Equal(t, key1, key2)
	assert.NotEqual(t, key1, key3)
}

func TestKeyManager_SaveAndLoadKeyFile(t *testing.T) {
	km := NewKeyManager()
	key := testKey(t)
	path := filepath.Join(t.TempDir(), "backup.key")

	require.NoError(t, km.SaveKeyToFile(key, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := km.LoadKeyFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, key, loaded)

	rawPath := filepath.Join(t.TempDir(), "raw.key")
	require.NoError(t, os.WriteFile(rawPath, key, 0600))
	loaded, err = km.LoadKeyFromFile(rawPath)
	require.NoError(t, err)
	assert.Equal(t, key, loaded)

	badPath := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(badPath, []byte("not hex"), 0600))
	_, err = km.LoadKeyFromFile(badPath)
	assert.Error(t, err)
}

func TestKeyManager_LoadKeyFromEnv(t *testing.T) {
	km := NewKeyManager()
	key := testKey(t)

	t.Setenv("TEST_FBS_KEY", hex.EncodeToString(key))
	loaded, err := km.LoadKeyFromEnv("TEST_FBS_KEY")
	require.NoError(t, err)
	assert.Equal(t, key, loaded)

	_, err = km.LoadKeyFromEnv("TEST_FBS_KEY_UNSET")
	assert.Error(t, err)

	t.Setenv("TEST_FBS_KEY_SHORT", "abcd")
	_, err = km.LoadKeyFromEnv("TEST_FBS_KEY_SHORT")
	assert.Error(t, err)
}

func TestKeyManager_ValidateKey(t *testing.T) {
	km := NewKeyManager()

	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"valid key", bytes.Repeat([]byte{0x5A}, 32), false},
		{"short key", make([]byte, 16), true},
		{"all zeros", make([]byte, 32), true},
		{"all ones", bytes.Repeat([]byte{0xFF}, 32), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := km.ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
