package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/2beens/postboard/internal/telemetry/tracing"
	"github.com/2beens/postboard/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var _ Store = (*DiskStore)(nil)
var _ Opener = (*DiskStore)(nil)

type DiskStore struct {
	rootPath      string
	publicBaseURL string
}

func NewDiskStore(rootPath, publicBaseURL string) (*DiskStore, error) {
	if rootPath == "" {
		return nil, errors.New("root path cannot be empty")
	}
	if err := pkg.EnsureDir(rootPath); err != nil {
		return nil, fmt.Errorf("ensure root dir: %w", err)
	}
	return &DiskStore{
		rootPath:      rootPath,
		publicBaseURL: publicBaseURL,
	}, nil
}

func (ds *DiskStore) fullPath(objectPath string) (string, string, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(ds.rootPath, filepath.FromSlash(cleaned)), nil
}

func (ds *DiskStore) Put(ctx context.Context, objectPath string, r io.Reader, opts PutOptions) (_ string, err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "diskStore.put")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	cleaned, fullPath, err := ds.fullPath(objectPath)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("object.path", cleaned))
	span.SetAttributes(attribute.Int64("object.size", opts.Size))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if opts.NoOverwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}

	dst, err := os.OpenFile(fullPath, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", ErrExists
		}
		return "", err
	}

	if _, err := io.Copy(dst, r); err != nil {
		_ = dst.Close()
		if removeErr := os.Remove(fullPath); removeErr != nil {
			log.Errorf("disk store: remove partial object [%s]: %s", cleaned, removeErr)
		}
		return "", err
	}

	if err := dst.Close(); err != nil {
		return "", err
	}

	log.Debugf("disk store: object [%s] saved", cleaned)
	return cleaned, nil
}

func (ds *DiskStore) PublicURL(objectPath string) string {
	return publicURL(ds.publicBaseURL, objectPath)
}

func (ds *DiskStore) Delete(ctx context.Context, objectPath string) (err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "diskStore.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	cleaned, fullPath, err := ds.fullPath(objectPath)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}

	log.Debugf("disk store: object [%s] deleted", cleaned)
	return nil
}

func (ds *DiskStore) Open(_ context.Context, objectPath string) (io.ReadCloser, error) {
	_, fullPath, err := ds.fullPath(objectPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if stat.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}

	return f, nil
}
