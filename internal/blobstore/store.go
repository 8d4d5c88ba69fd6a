package blobstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
)

var (
	ErrExists      = errors.New("object already exists")
	ErrNotFound    = errors.New("object not found")
	ErrInvalidPath = errors.New("invalid object path")
)

type PutOptions struct {
	NoOverwrite bool
	ContentType string
	Size        int64
}

// Store is path-addressed object storage for post images.
type Store interface {
	Put(ctx context.Context, objectPath string, r io.Reader, opts PutOptions) (string, error)
	PublicURL(objectPath string) string
	Delete(ctx context.Context, objectPath string) error
}

// Opener is implemented by stores whose objects are served by this service.
type Opener interface {
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)
}

// CleanPath normalizes an object path to a relative slash-separated form and rejects paths escaping the root.
func CleanPath(objectPath string) (string, error) {
	if objectPath == "" || strings.ContainsRune(objectPath, 0) || strings.Contains(objectPath, "\\") {
		return "", ErrInvalidPath
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+objectPath), "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidPath
	}
	for _, segment := range strings.Split(objectPath, "/") {
		if segment == ".." {
			return "", ErrInvalidPath
		}
	}
	return cleaned, nil
}

func publicURL(baseURL, objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.Join(segments, "/")
}

// servable image types, keyed by the extension objects are stored under. No svg: it can carry scripts.
var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".avif": "image/avif",
}

// ImageExtension returns the extension for a servable image media type, empty otherwise.
func ImageExtension(mediaType string) string {
	for ext, t := range imageTypes {
		if t == mediaType {
			return ext
		}
	}
	return ""
}

// ImageContentType returns the content type an object is served with, empty when it is not a servable image.
func ImageContentType(objectPath string) string {
	return imageTypes[strings.ToLower(path.Ext(objectPath))]
}
