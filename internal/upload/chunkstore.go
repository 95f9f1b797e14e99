package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/veridex/veridex-backend/internal/content"
)

// ChunkStore spools chunk payloads on local disk, one directory per session.
// Chunks are written to a temp file and renamed so a partially written chunk
// is never visible to assembly.
type ChunkStore struct {
	spoolDir string
}

// NewChunkStore ensures the spool root exists.
func NewChunkStore(spoolDir string) (*ChunkStore, error) {
	if spoolDir == "" {
		return nil, errors.New("spool dir required")
	}
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool dir: %w", err)
	}
	return &ChunkStore{spoolDir: spoolDir}, nil
}

// SaveChunk persists one chunk payload and returns its byte count and digest.
func (c *ChunkStore) SaveChunk(sessionID string, index int, r io.Reader, maxBytes int64) (int64, string, error) {
	dir := c.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", fmt.Errorf("creating session spool: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "chunk-*.tmp")
	if err != nil {
		return 0, "", fmt.Errorf("creating chunk temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	hasher := content.NewHasher()
	limited := io.LimitReader(r, maxBytes+1)
	n, err := io.Copy(io.MultiWriter(tmp, hasher), limited)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, "", fmt.Errorf("spooling chunk: %w", err)
	}
	if n > maxBytes {
		return 0, "", ErrChunkTooLarge
	}

	if err := os.Rename(tmpName, c.chunkPath(sessionID, index)); err != nil {
		return 0, "", fmt.Errorf("committing chunk: %w", err)
	}
	return n, hasher.Sum(), nil
}

// HasChunk reports whether a committed chunk file exists for the index.
func (c *ChunkStore) HasChunk(sessionID string, index int) bool {
	_, err := os.Stat(c.chunkPath(sessionID, index))
	return err == nil
}

// Assemble streams chunks 0..totalChunks-1 in order into dst, returning the
// content hash and total byte count of the assembled payload.
func (c *ChunkStore) Assemble(sessionID string, totalChunks int, dst io.Writer) (string, int64, error) {
	hasher := content.NewHasher()
	sink := io.MultiWriter(dst, hasher)

	var total int64
	for index := 0; index < totalChunks; index++ {
		n, err := c.copyChunk(sessionID, index, sink)
		if err != nil {
			return "", 0, err
		}
		total += n
	}
	return hasher.Sum(), total, nil
}

func (c *ChunkStore) copyChunk(sessionID string, index int, dst io.Writer) (int64, error) {
	f, err := os.Open(c.chunkPath(sessionID, index))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("chunk %d: %w", index, ErrIncompleteUpload)
		}
		return 0, fmt.Errorf("opening chunk %d: %w", index, err)
	}
	defer func() { _ = f.Close() }()

	n, err := io.Copy(dst, f)
	if err != nil {
		return 0, fmt.Errorf("reading chunk %d: %w", index, err)
	}
	return n, nil
}

// RemoveChunk discards one committed chunk, typically after a failed
// integrity check so the client can resend it.
func (c *ChunkStore) RemoveChunk(sessionID string, index int) error {
	err := os.Remove(c.chunkPath(sessionID, index))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing chunk %d: %w", index, err)
	}
	return nil
}

// RemoveSession deletes the session's spool directory and all chunks in it.
func (c *ChunkStore) RemoveSession(sessionID string) error {
	return os.RemoveAll(c.sessionDir(sessionID))
}

// SessionDirs lists the session IDs that still have spool directories.
func (c *ChunkStore) SessionDirs() ([]string, error) {
	entries, err := os.ReadDir(c.spoolDir)
	if err != nil {
		return nil, fmt.Errorf("reading spool dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (c *ChunkStore) sessionDir(sessionID string) string {
	return filepath.Join(c.spoolDir, sessionID)
}

func (c *ChunkStore) chunkPath(sessionID string, index int) string {
	return filepath.Join(c.sessionDir(sessionID), strconv.Itoa(index)+".chunk")
}
