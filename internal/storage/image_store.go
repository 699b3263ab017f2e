package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"storefront-catalog/internal/config"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// ErrDisabled is returned by the image store when no credentials are configured.
var ErrDisabled = errors.New("image storage is not configured")

// ImageStore persists product images and returns their public URL.
type ImageStore interface {
	Upload(ctx context.Context, filename string, file io.Reader) (string, error)
}

type cloudinaryStore struct {
	cld    *cloudinary.Cloudinary
	folder string
}

// NewImageStore returns a cloudinary-backed store, or a store that always
// fails with ErrDisabled when the credentials are missing.
func NewImageStore(cfg config.CloudinaryConfig) (ImageStore, error) {
	if !cfg.Enabled() {
		return disabledStore{}, nil
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cloudinary: %w", err)
	}
	return &cloudinaryStore{cld: cld, folder: cfg.Folder}, nil
}

func (s *cloudinaryStore) Upload(ctx context.Context, filename string, file io.Reader) (string, error) {
	uniqueFilename := true
	result, err := s.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		PublicID:       filename,
		Folder:         s.folder,
		UniqueFilename: &uniqueFilename,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload image: %s", result.Error.Message)
	}
	return result.SecureURL, nil
}

type disabledStore struct{}

func (disabledStore) Upload(context.Context, string, io.Reader) (string, error) {
	return "", ErrDisabled
}
