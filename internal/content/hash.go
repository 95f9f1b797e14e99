package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"regexp"
	"strings"
)

// HashLen is the length of a hex-encoded SHA-256 digest.
const HashLen = 64

var hashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Hasher accumulates a SHA-256 digest over streamed payload bytes.
type Hasher struct {
	inner hash.Hash
	size  int64
}

// NewHasher returns an empty content hasher.
func NewHasher() *Hasher {
	return &Hasher{inner: sha256.New()}
}

// Write implements io.Writer so the hasher can sit behind an io.MultiWriter.
func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.inner.Write(p)
	h.size += int64(n)
	return n, err
}

// Size returns the number of bytes hashed so far.
func (h *Hasher) Size() int64 {
	return h.size
}

// Sum returns the lowercase hex digest of everything written so far.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.inner.Sum(nil))
}

// HashBytes digests a full in-memory payload.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader digests r to EOF and reports the byte count consumed.
func HashReader(r io.Reader) (string, int64, error) {
	h := NewHasher()
	n, err := io.Copy(h.inner, r)
	if err != nil {
		return "", 0, fmt.Errorf("hashing stream: %w", err)
	}
	h.size = n
	return h.Sum(), n, nil
}

// ValidHash reports whether value looks like a hex-encoded SHA-256 digest.
func ValidHash(value string) bool {
	return hashRe.MatchString(strings.ToLower(value)) && value == strings.ToLower(value)
}

// Normalize lowercases a client-supplied digest after validation.
func Normalize(value string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if !hashRe.MatchString(trimmed) {
		return "", fmt.Errorf("invalid content hash %q", value)
	}
	return trimmed, nil
}
