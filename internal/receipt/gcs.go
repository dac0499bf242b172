package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
)

// GCSStorage implements the Storage interface on a Google Cloud Storage bucket
type GCSStorage struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCSStorage creates a bucket-backed Storage using Application Default Credentials
func NewGCSStorage(ctx context.Context, bucketName string) (*GCSStorage, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSStorage{
		client: client,
		bucket: client.Bucket(bucketName),
		name:   bucketName,
	}, nil
}

// Upload writes the image to the bucket and returns its public object URL
func (g *GCSStorage) Upload(ctx context.Context, owner, filename string, data []byte, contentType string) (*Upload, error) {
	p := objectPath(owner, filename)

	w := g.bucket.Object(p).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("writing object %s: %w", p, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing object %s: %w", p, err)
	}

	return &Upload{
		Path:        p,
		URL:         fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.name, (&url.URL{Path: p}).EscapedPath()),
		ContentType: contentType,
	}, nil
}

// Get downloads an object
func (g *GCSStorage) Get(ctx context.Context, p string) ([]byte, error) {
	r, err := g.bucket.Object(p).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("reading object %s: %w", p, ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening object %s: %w", p, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", p, err)
	}
	return data, nil
}

// Delete removes an object
func (g *GCSStorage) Delete(ctx context.Context, p string) error {
	err := g.bucket.Object(p).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting object %s: %w", p, ErrFileNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting object %s: %w", p, err)
	}
	return nil
}

// Close releases the storage client
func (g *GCSStorage) Close() error {
	return g.client.Close()
}
