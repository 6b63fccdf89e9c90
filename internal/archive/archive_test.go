package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveWritesUnderJobPrefix(t *testing.T) {
	root := t.TempDir()
	a := NewArchiver(&LocalStore{Root: root}, zerolog.Nop())

	key, err := a.Archive(context.Background(), "job-7", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "checkpoints/job-7/"))
	assert.True(t, strings.HasSuffix(key, ".json"))

	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(b))
}

func TestArchiveKeysAreUnique(t *testing.T) {
	a := NewArchiver(&LocalStore{Root: t.TempDir()}, zerolog.Nop())
	k1, err := a.Archive(context.Background(), "job", []byte("{}"))
	require.NoError(t, err)
	k2, err := a.Archive(context.Background(), "job", []byte("{}"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	s, err := NewS3Store(Config{Endpoint: "localhost:9000", Bucket: "dq", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.Equal(t, "dq", s.bucket)
}
