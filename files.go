package localbase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// PlaceholderMediaURL is what GetPublicURL returns for every object: a small
// public sample video, so media players always have something to play.
const PlaceholderMediaURL = "https://sample-videos.com/video123/mp4/720/big_buck_bunny_720p_1mb.mp4"

var ErrInvalidPath = errors.New("invalid object path")

type FileStorageOptions struct {
	Logger  *slog.Logger
	Verbose bool

	// PublicURL overrides PlaceholderMediaURL.
	PublicURL string
}

// FileStorage accepts uploads and hands out public URLs without keeping any
// bytes. Uploaded content is read to the end and discarded.
type FileStorage struct {
	logger    *slog.Logger
	verbose   bool
	publicURL string
}

func NewFileStorage(opt FileStorageOptions) *FileStorage {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.PublicURL == "" {
		opt.PublicURL = PlaceholderMediaURL
	}
	return &FileStorage{
		logger:    opt.Logger,
		verbose:   opt.Verbose,
		publicURL: opt.PublicURL,
	}
}

type Bucket struct {
	fs   *FileStorage
	name string
}

// From returns a handle to the named bucket. Buckets need not exist.
func (fs *FileStorage) From(bucket string) *Bucket {
	return &Bucket{fs: fs, name: bucket}
}

func (b *Bucket) Name() string {
	return b.name
}

// UploadOptions are accepted for compatibility with hosted storage clients.
// Nothing is stored, so they only show up in the upload log: Upsert never
// matters and CacheControl never reaches a response.
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Upsert       bool
}

type UploadResult struct {
	Path     string `json:"path"`
	FullPath string `json:"fullPath"`
	Size     int64  `json:"size"`
	Checksum uint64 `json:"checksum"`
}

// Upload consumes content and reports success. Nothing is stored.
func (b *Bucket) Upload(path string, content io.Reader, opt UploadOptions) (*UploadResult, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" || strings.HasSuffix(path, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	var size int64
	h := xxhash.New()
	if content != nil {
		var err error
		size, err = io.Copy(h, content)
		if err != nil {
			return nil, fmt.Errorf("upload %s/%s: %w", b.name, path, err)
		}
	}
	res := &UploadResult{
		Path:     path,
		FullPath: b.name + "/" + path,
		Size:     size,
		Checksum: h.Sum64(),
	}
	b.fs.logger.LogAttrs(context.Background(), slog.LevelInfo, "localbase: upload discarded", slog.String("bucket", b.name), slog.String("path", path), slog.Int64("size", size), slog.String("xxhash", fmt.Sprintf("%016x", res.Checksum)), slog.String("content_type", opt.ContentType), slog.String("cache_control", opt.CacheControl), slog.Bool("upsert", opt.Upsert))
	return res, nil
}

// GetPublicURL returns the same placeholder for every path, whether or not
// anything was uploaded there.
func (b *Bucket) GetPublicURL(path string) string {
	if b.fs.verbose {
		b.fs.logger.LogAttrs(context.Background(), slog.LevelDebug, "localbase: public url", slog.String("bucket", b.name), slog.String("path", path))
	}
	return b.fs.publicURL
}
