// Package objstore downloads s3:// inputs into a local cache directory so the
// importers can treat them like ordinary files.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/elastic/search-workshop/importer/internal/config"
	"github.com/elastic/search-workshop/importer/internal/logging"
)

const scheme = "s3://"

var ErrObjectStore = errors.New("object store error")

// IsRemote reports whether input names an object rather than a local path.
func IsRemote(input string) bool {
	return strings.HasPrefix(input, scheme)
}

// ParseURL splits s3://bucket/key into bucket and key.
func ParseURL(input string) (bucket, key string, err error) {
	if !IsRemote(input) {
		return "", "", fmt.Errorf("%w: %q is not an s3:// URL", ErrObjectStore, input)
	}
	rest := strings.TrimPrefix(input, scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q needs both bucket and key", ErrObjectStore, input)
	}
	return bucket, key, nil
}

// hasMeta reports whether key contains glob metacharacters.
func hasMeta(key string) bool {
	return strings.ContainsAny(key, "*?[")
}

// listPrefix is the literal part of a glob pattern before its first
// metacharacter.
func listPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

type objectAPI interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	FGetObject(ctx context.Context, bucket, object, filePath string, opts minio.GetObjectOptions) error
}

type Fetcher struct {
	api      objectAPI
	cacheDir string
	logger   *zap.SugaredLogger
}

// New connects to the configured S3-compatible endpoint. Nothing is fetched
// until Fetch is called.
func New(cfg config.ObjectStore, logger *zap.SugaredLogger) (*Fetcher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: object_store.endpoint is required for s3:// inputs", config.ErrConfig)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObjectStore, err)
	}
	return newFetcher(client, cfg.CacheDir, logger), nil
}

func newFetcher(api objectAPI, cacheDir string, logger *zap.SugaredLogger) *Fetcher {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "search-workshop-cache")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Fetcher{api: api, cacheDir: cacheDir, logger: logger}
}

// Fetch downloads the object (or every object matching a glob key) and
// returns the local paths in listing order. Each object lands under its key's
// directory inside the cache, so the local name keeps the object's basename
// (year/month hints survive) and same-named objects do not overwrite each other.
func (f *Fetcher) Fetch(ctx context.Context, input string) ([]string, error) {
	bucket, key, err := ParseURL(input)
	if err != nil {
		return nil, err
	}

	keys := []string{key}
	if hasMeta(key) {
		keys, err = f.match(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			f.logger.Warnf("No objects match %s", input)
			return nil, nil
		}
	}

	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		if !filepath.IsLocal(filepath.FromSlash(k)) {
			return nil, fmt.Errorf("%w: key %q escapes the cache dir", ErrObjectStore, k)
		}
		dir := filepath.Join(f.cacheDir, bucket, filepath.FromSlash(path.Dir(k)))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
		local := filepath.Join(dir, path.Base(k))
		f.logger.Infof("Downloading s3://%s/%s to %s", bucket, k, local)
		if err := f.api.FGetObject(ctx, bucket, k, local, minio.GetObjectOptions{}); err != nil {
			return nil, fmt.Errorf("%w: downloading s3://%s/%s: %v", ErrObjectStore, bucket, k, err)
		}
		paths = append(paths, local)
	}
	return paths, nil
}

func (f *Fetcher) match(ctx context.Context, bucket, pattern string) ([]string, error) {
	var keys []string
	opts := minio.ListObjectsOptions{Prefix: listPrefix(pattern), Recursive: true}
	for obj := range f.api.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: listing s3://%s/%s: %v", ErrObjectStore, bucket, pattern, obj.Err)
		}
		ok, err := path.Match(pattern, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrObjectStore, pattern, err)
		}
		if ok {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}
