package blob

import (
	"io"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "test-secret", ttl)
	require.NoError(t, err)
	return s
}

func TestPutOpenRoundTrip(t *testing.T) {
	s := newTestStore(t, time.Hour)

	meta, err := s.Put(strings.NewReader("hello bytes"), "pic.png", "image/png")
	require.NoError(t, err)
	require.Equal(t, "image/png", meta.ContentType)
	require.Equal(t, int64(len("hello bytes")), meta.SizeBytes)

	f, got, err := s.Open(meta.ID)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, meta.ID, got.ID)

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "hello bytes", string(data))
}

func TestContentTypeDefaulted(t *testing.T) {
	s := newTestStore(t, time.Hour)
	meta, err := s.Put(strings.NewReader("x"), "blob.bin", "")
	require.NoError(t, err)
	require.Equal(t, "application/octet-stream", meta.ContentType)
}

func parseSignedPath(t *testing.T, path string) (id string, exp int64, sig string) {
	t.Helper()
	u, err := url.Parse(path)
	require.NoError(t, err)
	id = strings.TrimPrefix(u.Path, "/files/")
	exp, err = strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	require.NoError(t, err)
	return id, exp, u.Query().Get("sig")
}

func TestSignedPathVerifies(t *testing.T) {
	s := newTestStore(t, time.Hour)
	meta, err := s.Put(strings.NewReader("x"), "f", "text/plain")
	require.NoError(t, err)

	id, exp, sig := parseSignedPath(t, s.SignedPath(meta.ID))
	require.Equal(t, meta.ID, id)
	require.NoError(t, s.Verify(id, exp, sig))
}

func TestTamperedSignatureRejected(t *testing.T) {
	s := newTestStore(t, time.Hour)
	meta, err := s.Put(strings.NewReader("x"), "f", "text/plain")
	require.NoError(t, err)

	id, exp, sig := parseSignedPath(t, s.SignedPath(meta.ID))

	require.ErrorIs(t, s.Verify(id, exp, sig+"ff"), ErrBadSignature)
	// Extending the expiry invalidates the signature too.
	require.ErrorIs(t, s.Verify(id, exp+1000, sig), ErrBadSignature)
}

func TestExpiredURLRejected(t *testing.T) {
	s := newTestStore(t, -time.Minute)
	meta, err := s.Put(strings.NewReader("x"), "f", "text/plain")
	require.NoError(t, err)

	id, exp, sig := parseSignedPath(t, s.SignedPath(meta.ID))
	require.ErrorIs(t, s.Verify(id, exp, sig), ErrExpired)
}

func TestOpenUnknownBlob(t *testing.T) {
	s := newTestStore(t, time.Hour)
	_, _, err := s.Open("no-such-id")
	require.ErrorIs(t, err, ErrNotFound)
}
