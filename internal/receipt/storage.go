package receipt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrFileNotFound is returned by storage backends when an object does not exist
var ErrFileNotFound = errors.New("file not found")

// Storage defines the interface for receipt image storage
type Storage interface {
	// Upload stores an image under the owner's prefix and returns where it lives
	Upload(ctx context.Context, owner, filename string, data []byte, contentType string) (*Upload, error)

	// Get retrieves a stored image by path
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes a stored image
	Delete(ctx context.Context, path string) error
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 6 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phone cameras produce very long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// objectPath builds the owner-scoped path an upload is stored under.
// A unique prefix keeps two files with the same name from overwriting each other.
func objectPath(owner, filename string) string {
	return path.Join("receipts", ownerSegment(owner), uuid.NewString()[:8]+"_"+sanitizeFilename(filename))
}

// OwnerPrefix is the path prefix every upload for owner is stored under
func OwnerPrefix(owner string) string {
	return path.Join("receipts", ownerSegment(owner)) + "/"
}

// ownerSegment encodes owner as a single path segment. The encoding is
// one-to-one so no two owners share a prefix.
func ownerSegment(owner string) string {
	if owner == "" {
		return "default"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(owner))
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
	baseURL  string
}

// NewLocalStorage creates a new LocalStorage instance. baseURL is the prefix
// under which the HTTP server exposes stored files.
func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// resolve maps a storage path to a file inside basePath, rejecting traversal
func (l *LocalStorage) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", fmt.Errorf("invalid path: %q", p)
	}
	return filepath.Join(l.basePath, filepath.FromSlash(clean)), nil
}

// Upload saves an image to local storage
func (l *LocalStorage) Upload(_ context.Context, owner, filename string, data []byte, contentType string) (*Upload, error) {
	p := objectPath(owner, filename)
	full, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("creating owner directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return nil, fmt.Errorf("writing file: %w", err)
	}
	return &Upload{
		Path:        p,
		URL:         l.baseURL + "/" + p,
		ContentType: contentType,
	}, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(_ context.Context, p string) ([]byte, error) {
	full, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading file %s: %w", p, ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(_ context.Context, p string) error {
	full, err := l.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting file %s: %w", p, ErrFileNotFound)
		}
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
