// Package store persists photo bytes in an object store.
package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	TypeFile = "file"
	TypeS3   = "s3"

	keyPrefix = "photos"
)

var (
	// ErrObjectNotFound is returned when the key does not exist in the store.
	ErrObjectNotFound = errors.New("object not found")

	extensions = map[string]string{
		"image/jpeg": "jpg",
		"image/jpg":  "jpg",
		"image/png":  "png",
		"image/gif":  "gif",
		"image/webp": "webp",
	}
)

// Store is the object storage used for photo bytes.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Options selects and configures a Store implementation.
type Options struct {
	Type      string `yaml:"type" env:"TYPE"`
	Dir       string `yaml:"dir" env:"DIR"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	Region    string `yaml:"region" env:"REGION"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"-" env:"SECRET_KEY"`
}

// New creates the store described by opt.
func New(opt Options) (Store, error) {
	switch strings.ToLower(opt.Type) {
	case "", TypeFile:
		return NewFileStore(opt.Dir)
	case TypeS3:
		return NewS3Store(S3Config{
			Bucket:          opt.Bucket,
			HostEndpointURL: opt.Endpoint,
			Region:          opt.Region,
			AccessKey:       opt.AccessKey,
			SecretKey:       opt.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unsupported store type: %s", opt.Type)
	}
}

// Extension returns the file extension for a supported image content type.
func Extension(contentType string) (string, bool) {
	ext, ok := extensions[strings.ToLower(strings.TrimSpace(contentType))]
	return ext, ok
}

// ObjectKey builds the object key of a photo: photos/<owner>/<kind>/<id>.<ext>
func ObjectKey(owner, kind, id, contentType string) string {
	name := id
	if ext, ok := Extension(contentType); ok {
		name = id + "." + ext
	}
	return path.Join(keyPrefix, sanitize(owner), sanitize(kind), sanitize(name))
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
