// Package blob stores uploaded attachments on disk and hands out
// time-limited signed download URLs, mirroring a presigned object-store GET
// without requiring one. The relay core treats the resulting URL as opaque.
package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const defaultContentType = "application/octet-stream"

var (
	ErrNotFound     = errors.New("blob not found")
	ErrBadSignature = errors.New("invalid blob URL signature")
	ErrExpired      = errors.New("blob URL expired")
)

// Metadata describes one stored blob.
type Metadata struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	ContentType  string    `json:"contentType"`
	SizeBytes    int64     `json:"sizeBytes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store keeps blob bytes as UUID-named files with a JSON metadata sidecar.
type Store struct {
	dir    string
	secret []byte
	ttl    time.Duration
}

func NewStore(dir, urlSecret string, ttl time.Duration) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Store{dir: dir, secret: []byte(urlSecret), ttl: ttl}, nil
}

// Put writes one blob and returns its metadata. The write goes through a
// temp file and rename so a crashed upload never leaves a half-written blob
// behind.
func (s *Store) Put(r io.Reader, originalName, contentType string) (Metadata, error) {
	if contentType == "" {
		contentType = defaultContentType
	}
	id := uuid.New().String()

	tempFile, err := os.CreateTemp(s.dir, ".blob-write-*")
	if err != nil {
		return Metadata{}, fmt.Errorf("create temp blob file: %w", err)
	}
	tempPath := tempFile.Name()

	size, copyErr := io.Copy(tempFile, r)
	closeErr := tempFile.Close()
	if copyErr != nil {
		os.Remove(tempPath)
		return Metadata{}, fmt.Errorf("write blob bytes: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return Metadata{}, fmt.Errorf("close blob file: %w", closeErr)
	}

	if err := os.Rename(tempPath, filepath.Join(s.dir, id)); err != nil {
		os.Remove(tempPath)
		return Metadata{}, fmt.Errorf("move blob into place: %w", err)
	}

	meta := Metadata{
		ID:           id,
		OriginalName: originalName,
		ContentType:  contentType,
		SizeBytes:    size,
		CreatedAt:    time.Now().UTC(),
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return Metadata{}, fmt.Errorf("marshal blob metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, id+".meta"), metaData, 0o644); err != nil {
		os.Remove(filepath.Join(s.dir, id))
		return Metadata{}, fmt.Errorf("persist blob metadata: %w", err)
	}
	return meta, nil
}

// SignedPath returns the time-limited download path for a blob, valid for
// the store's TTL.
func (s *Store) SignedPath(id string) string {
	exp := time.Now().Add(s.ttl).Unix()
	return fmt.Sprintf("/files/%s?exp=%d&sig=%s", id, exp, s.sign(id, exp))
}

// Verify checks a download request's expiry and signature.
func (s *Store) Verify(id string, exp int64, sig string) error {
	if !hmac.Equal([]byte(sig), []byte(s.sign(id, exp))) {
		return ErrBadSignature
	}
	if time.Now().Unix() > exp {
		return ErrExpired
	}
	return nil
}

// Open returns the blob file and its metadata.
func (s *Store) Open(id string) (*os.File, Metadata, error) {
	metaData, err := os.ReadFile(filepath.Join(s.dir, id+".meta"))
	if err != nil {
		return nil, Metadata{}, ErrNotFound
	}
	var meta Metadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, Metadata{}, fmt.Errorf("decode blob metadata: %w", err)
	}
	f, err := os.Open(filepath.Join(s.dir, id))
	if err != nil {
		return nil, Metadata{}, ErrNotFound
	}
	return f, meta, nil
}

func (s *Store) sign(id string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
