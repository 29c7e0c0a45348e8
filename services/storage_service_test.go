package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultKey(t *testing.T) {
	assert.Equal(t, "results/42/overviews/abc_7.png", ResultKey(42, "Overviews", "abc", "7", "png"))

	// already-dotted extensions are not doubled
	assert.Equal(t, "results/42/overviews/abc_7.png", ResultKey(42, "Overviews", "abc", "7", ".png"))

	// datasets without a file extension get none
	assert.Equal(t, "results/7/segmentation/inv_d1", ResultKey(7, "Segmentation", "inv", "d1", ""))
}

func TestLocalStorageRoundtrip(t *testing.T) {
	baseDir := t.TempDir()
	store, err := NewLocalStorageService(baseDir)
	require.NoError(t, err)

	ctx := context.Background()
	srcPath := filepath.Join(t.TempDir(), "input.laz")
	require.NoError(t, os.WriteFile(srcPath, []byte("point cloud"), 0644))

	require.NoError(t, store.UploadFile(ctx, srcPath, "results/42/overviews/abc_7.laz"))

	destPath := filepath.Join(t.TempDir(), "fetched.laz")
	require.NoError(t, store.DownloadFile(ctx, "results/42/overviews/abc_7.laz", destPath))

	content, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, "point cloud", string(content))
}

func TestLocalStorageOverwrites(t *testing.T) {
	store, err := NewLocalStorageService(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	srcDir := t.TempDir()

	first := filepath.Join(srcDir, "v1")
	require.NoError(t, os.WriteFile(first, []byte("first"), 0644))
	require.NoError(t, store.UploadFile(ctx, first, "key"))

	second := filepath.Join(srcDir, "v2")
	require.NoError(t, os.WriteFile(second, []byte("second"), 0644))
	require.NoError(t, store.UploadFile(ctx, second, "key"))

	destPath := filepath.Join(srcDir, "out")
	require.NoError(t, store.DownloadFile(ctx, "key", destPath))

	content, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))
}

func TestNewStorageService_UnknownType(t *testing.T) {
	_, err := NewStorageService(context.Background(), "ftp", "", "", "", "", "")
	assert.Error(t, err)
}
