package storage

import (
	"context"
	"strings"
	"testing"

	"storefront-catalog/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImageStore_WithoutCredentialsIsDisabled(t *testing.T) {
	store, err := NewImageStore(config.CloudinaryConfig{CloudName: "demo"})
	require.NoError(t, err)

	url, err := store.Upload(context.Background(), "skillet", strings.NewReader("png"))

	assert.ErrorIs(t, err, ErrDisabled)
	assert.Empty(t, url)
}

func TestNewImageStore_WithCredentials(t *testing.T) {
	store, err := NewImageStore(config.CloudinaryConfig{
		CloudName: "demo",
		APIKey:    "key",
		APISecret: "secret",
		Folder:    "catalog/products",
	})
	require.NoError(t, err)

	cld, ok := store.(*cloudinaryStore)
	require.True(t, ok)
	assert.Equal(t, "catalog/products", cld.folder)
}
