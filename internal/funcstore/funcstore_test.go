package funcstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileStoreReadsSourceByRef(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handler.js"), []byte("exports.main = function() {};"), 0o644))

	s := NewLocalFileStore(dir)
	source, err := s.Source(context.Background(), "handler.js")

	require.NoError(t, err)
	assert.Equal(t, "exports.main = function() {};", source)
}

func TestLocalFileStoreMissingRefIsError(t *testing.T) {
	s := NewLocalFileStore(t.TempDir())
	_, err := s.Source(context.Background(), "missing.js")
	assert.Error(t, err)
}

func TestObjectNameNamespacesFunctions(t *testing.T) {
	assert.Equal(t, "functions/abc123.js", objectName("abc123"))
}

func TestNewBlobFunctionStoreWithRetryAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBlobFunctionStoreWithRetry(ctx, BlobFunctionStoreConfig{
		Endpoint:   "127.0.0.1:1",
		BucketName: "sandbox-functions",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
