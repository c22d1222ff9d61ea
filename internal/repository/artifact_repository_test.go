package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-chat-go/internal/model"
)

func TestLocalArtifactsRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewLocalArtifactRepository(dir, "shop")

	_, err := repo.LoadMetadata(ctx)
	require.ErrorIs(t, err, ErrArtifactNotFound)
	_, err = repo.LoadDocument(ctx)
	require.ErrorIs(t, err, ErrArtifactNotFound)

	store := model.MetadataStore{
		"orders": {
			Description: "Customer orders.",
			Columns:     []model.SchemaColumn{{TableName: "orders", ColumnName: "id", DataType: "int", IsPrimary: true}},
			SampleRows:  []map[string]any{{"id": float64(1)}},
		},
	}
	require.NoError(t, repo.SaveMetadata(ctx, store))
	require.NoError(t, repo.SaveDocument(ctx, "# Database Snapshot\n"))

	loaded, err := repo.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, store, loaded)

	doc, err := repo.LoadDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, "# Database Snapshot\n", doc)
	assert.FileExists(t, filepath.Join(dir, "shop", "metadata.json"))

	require.NoError(t, repo.DeleteMetadata(ctx))
	_, err = repo.LoadMetadata(ctx)
	require.ErrorIs(t, err, ErrArtifactNotFound)
	// deleting twice is not an error
	require.NoError(t, repo.DeleteMetadata(ctx))
}

func TestLocalArtifactsCorruptMetadataIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "shop"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop", "metadata.json"), []byte("{"), 0o644))

	_, err := NewLocalArtifactRepository(dir, "shop").LoadMetadata(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrArtifactNotFound)
}
