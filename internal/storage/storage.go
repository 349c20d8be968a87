// Package storage abstracts the object store that holds source materials,
// cached unit clips, and final videos. Keys are slash-separated paths scoped
// by purpose (for example "videos/42/final.mp4" or "units/42/unit-003.mp4").
//
// The filesystem gateway is the only implementation in this repository; the
// interface keeps the pipeline free of any storage-backend detail so an S3
// style backend can slot in without touching callers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"montage/internal/fileutil"
	"montage/internal/services"
)

// ErrNotFound reports a key that has no object behind it.
var ErrNotFound = errors.New("storage: object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Gateway is the pipeline's view of the object store.
type Gateway interface {
	// Upload copies a local file into the store under key.
	Upload(ctx context.Context, localPath, key string) error
	// Download copies the object at key to a local path.
	Download(ctx context.Context, key, localPath string) error
	// Stat reports whether an object exists and its metadata.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// PresignedURL returns a fetchable URL for the object, valid for ttl.
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// FSGateway implements Gateway on a local directory tree.
type FSGateway struct {
	root     string
	verified bool
}

// NewFSGateway builds a filesystem gateway rooted at root. When verified is
// set, uploads are checksummed end to end.
func NewFSGateway(root string, verified bool) (*FSGateway, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FSGateway{root: root, verified: verified}, nil
}

// Root returns the gateway's root directory.
func (g *FSGateway) Root() string {
	return g.root
}

func (g *FSGateway) resolve(key string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(key))
	if cleaned == "/" {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(g.root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}

// Upload copies localPath into the store under key.
func (g *FSGateway) Upload(ctx context.Context, localPath, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := g.resolve(key)
	if err != nil {
		return err
	}
	if g.verified {
		err = fileutil.CopyFileVerified(localPath, target)
	} else {
		err = fileutil.CopyFile(localPath, target)
	}
	if err != nil {
		return services.Wrap(services.ErrUpload, "storage", "upload", key, err)
	}
	return nil
}

// Download copies the object at key to localPath.
func (g *FSGateway) Download(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	source, err := g.resolve(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(source); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return services.Wrap(services.ErrDownload, "storage", "download", key, err)
	}
	if err := fileutil.CopyFile(source, localPath); err != nil {
		return services.Wrap(services.ErrDownload, "storage", "download", key, err)
	}
	return nil
}

// Stat reports object metadata for key.
func (g *FSGateway) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	source, err := g.resolve(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return ObjectInfo{}, err
	}
	if info.IsDir() {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete removes the object at key.
func (g *FSGateway) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := g.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// PresignedURL returns a file URL for the object. The filesystem gateway
// has no expiry enforcement; ttl is validated for interface parity.
func (g *FSGateway) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("storage: non-positive ttl")
	}
	info, err := g.Stat(ctx, key)
	if err != nil {
		return "", err
	}
	target, err := g.resolve(info.Key)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(target)}
	return u.String(), nil
}
