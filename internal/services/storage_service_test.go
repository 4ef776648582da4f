package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/pha-gateway/internal/models"
)

func TestStorageServiceStoresLocally(t *testing.T) {
	cfg := testConfig()
	cfg.AWS.LocalExportDir = t.TempDir()
	storage, err := NewStorageService(cfg)
	require.NoError(t, err)
	assert.False(t, storage.UsesS3())

	stored, err := storage.StoreReport(context.Background(), "analysis-1", &models.ExportedReport{
		Format:   "csv",
		Filename: "pha.csv",
		Body:     []byte("hazard,harm\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", stored.ContentType)
	assert.Equal(t, int64(12), stored.Size)
	assert.True(t, strings.HasPrefix(stored.Key, "reports/analysis-1/"))
	assert.True(t, strings.HasSuffix(stored.Key, ".csv"))

	data, err := os.ReadFile(stored.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "hazard,harm\n", string(data))

	require.NoError(t, storage.DeleteReport(context.Background(), stored.Key))
	_, err = os.Stat(stored.LocalPath)
	assert.True(t, os.IsNotExist(err))
}

func TestStorageKeyCannotEscapeExportDir(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	cfg.AWS.LocalExportDir = dir
	storage, err := NewStorageService(cfg)
	require.NoError(t, err)

	stored, err := storage.StoreReport(context.Background(), "../../etc", &models.ExportedReport{Format: "pdf", Body: []byte("x")})
	require.NoError(t, err)

	rel, err := filepath.Rel(dir, stored.LocalPath)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."))
}

func TestPresignRequiresS3(t *testing.T) {
	storage, err := NewStorageService(testConfig())
	require.NoError(t, err)

	_, err = storage.GeneratePresignedURL("reports/x.csv", "x.csv", 0)
	assert.Error(t, err)
}
