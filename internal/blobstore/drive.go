package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2beens/postboard/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"

	fileIDsCacheSize = 1 << 20
	// object paths are never reused, so ids can live long
	fileIDsCacheTTLSeconds = 6 * 60 * 60
)

var _ Store = (*DriveStore)(nil)
var _ Opener = (*DriveStore)(nil)

// DriveStore keeps objects as files of a single Google Drive folder, named by their object path.
// Objects are served through this service, so PublicURL points at the local images route.
type DriveStore struct {
	service       *drive.Service
	folderID      string
	publicBaseURL string
	// object path -> drive file id
	fileIDs *freecache.Cache
}

// NewDriveStore authenticates with service account credentials. Drive API calls are traced.
func NewDriveStore(ctx context.Context, credentialsJSON []byte, folderName, publicBaseURL string) (*DriveStore, error) {
	transport, err := htransport.NewTransport(
		ctx,
		otelhttp.NewTransport(http.DefaultTransport),
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(drive.DriveFileScope),
	)
	if err != nil {
		return nil, fmt.Errorf("drive transport: %w", err)
	}

	driveService, err := drive.NewService(ctx, option.WithHTTPClient(&http.Client{Transport: transport}))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve drive client: %w", err)
	}
	return NewDriveStoreWithService(ctx, driveService, folderName, publicBaseURL)
}

// NewDriveStoreWithService finds the root folder by name, creating it when missing.
func NewDriveStoreWithService(ctx context.Context, driveService *drive.Service, folderName, publicBaseURL string) (*DriveStore, error) {
	query := fmt.Sprintf(
		"name = '%s' and mimeType = '%s' and trashed = false",
		escapeQueryValue(folderName), folderMimeType,
	)
	folders, err := driveService.
		Files.List().
		Q(query).
		Fields("files(id, name)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to list folders: %w", err)
	}

	folderID := ""
	if len(folders.Files) > 0 {
		folderID = folders.Files[0].Id
	} else {
		created, err := driveService.
			Files.Create(&drive.File{
				Name:     folderName,
				MimeType: folderMimeType,
			}).
			Fields("id").
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("failed to create root images folder: %w", err)
		}
		folderID = created.Id
		log.Printf("drive store: root images folder created: %s", folderID)
	}

	log.Debugf("drive store: using folder ID: %s", folderID)

	return &DriveStore{
		service:       driveService,
		folderID:      folderID,
		publicBaseURL: publicBaseURL,
		fileIDs:       freecache.NewCache(fileIDsCacheSize),
	}, nil
}

func escapeQueryValue(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}

func (s *DriveStore) findFileID(ctx context.Context, name string) (string, error) {
	if cached, err := s.fileIDs.Get([]byte(name)); err == nil {
		return string(cached), nil
	}

	query := fmt.Sprintf(
		"name = '%s' and '%s' in parents and trashed = false",
		escapeQueryValue(name), s.folderID,
	)
	files, err := s.service.
		Files.List().
		Q(query).
		Fields("files(id, name)").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	if len(files.Files) == 0 {
		return "", ErrNotFound
	}

	fileID := files.Files[0].Id
	s.rememberFileID(name, fileID)
	return fileID, nil
}

func (s *DriveStore) rememberFileID(name, fileID string) {
	if err := s.fileIDs.Set([]byte(name), []byte(fileID), fileIDsCacheTTLSeconds); err != nil {
		log.Tracef("drive store: cache file id of [%s]: %s", name, err)
	}
}

func (s *DriveStore) Put(ctx context.Context, objectPath string, r io.Reader, opts PutOptions) (_ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "driveStore.put")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("object.path", cleaned))

	if opts.NoOverwrite {
		_, err := s.findFileID(ctx, cleaned)
		switch {
		case err == nil:
			return "", ErrExists
		case !errors.Is(err, ErrNotFound):
			return "", fmt.Errorf("check existing: %w", err)
		}
	}

	fileMeta := &drive.File{
		Name:     cleaned,
		MimeType: opts.ContentType,
		Parents:  []string{s.folderID},
	}
	var mediaOpts []googleapi.MediaOption
	if opts.ContentType != "" {
		mediaOpts = append(mediaOpts, googleapi.ContentType(opts.ContentType))
	}

	created, err := s.service.
		Files.Create(fileMeta).
		Fields("id").
		Media(r, mediaOpts...).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}

	s.rememberFileID(cleaned, created.Id)
	log.Debugf("drive store: object [%s] saved as %s", cleaned, created.Id)
	return cleaned, nil
}

func (s *DriveStore) PublicURL(objectPath string) string {
	return publicURL(s.publicBaseURL, objectPath)
}

func (s *DriveStore) Delete(ctx context.Context, objectPath string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "driveStore.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return err
	}

	fileID, err := s.findFileID(ctx, cleaned)
	if err != nil {
		return err
	}

	s.fileIDs.Del([]byte(cleaned))
	if err := s.service.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return err
	}

	log.Debugf("drive store: object [%s] deleted", cleaned)
	return nil
}

func (s *DriveStore) Open(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}

	fileID, err := s.findFileID(ctx, cleaned)
	if err != nil {
		return nil, err
	}

	resp, err := s.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			s.fileIDs.Del([]byte(cleaned))
			return nil, ErrNotFound
		}
		return nil, err
	}

	return resp.Body, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}
