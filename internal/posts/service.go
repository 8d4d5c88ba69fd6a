package posts

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/2beens/postboard/internal/auth"
	"github.com/2beens/postboard/internal/blobstore"
	"github.com/2beens/postboard/internal/telemetry/metrics"
	"github.com/2beens/postboard/internal/telemetry/tracing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Service runs the post lifecycle. Mutations are guarded by ownership and keep the
// attached image consistent with the record.
type Service struct {
	records        RecordStore
	blobs          BlobStore
	idempotency    IdempotencyStore
	cleaner        *Cleaner
	guard          *SubmitGuard
	metricsManager *metrics.Manager
	maxImageSize   int64

	NowFunc func() time.Time
}

type ServiceParams struct {
	Records RecordStore
	Blobs   BlobStore
	// Idempotency is optional, without it idempotency keys are ignored.
	Idempotency IdempotencyStore
	// Cleaner is optional, without it replaced images are deleted inline.
	Cleaner        *Cleaner
	MetricsManager *metrics.Manager
	MaxImageSize   int64
}

func NewService(params ServiceParams) *Service {
	metricsManager := params.MetricsManager
	if metricsManager == nil {
		metricsManager = metrics.NewManager("postboard", "posts", prometheus.NewRegistry())
	}
	maxImageSize := params.MaxImageSize
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	return &Service{
		records:        params.Records,
		blobs:          params.Blobs,
		idempotency:    params.Idempotency,
		cleaner:        params.Cleaner,
		guard:          NewSubmitGuard(),
		metricsManager: metricsManager,
		maxImageSize:   maxImageSize,
		NowFunc:        time.Now,
	}
}

// List returns all posts, newest first.
func (s *Service) List(ctx context.Context) (_ []Summary, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postsService.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	all, err := s.records.All(ctx)
	if err != nil {
		return nil, retrievalErr("list posts", err)
	}

	summaries := make([]Summary, 0, len(all))
	for i := range all {
		summaries = append(summaries, all[i].Summary())
	}
	return summaries, nil
}

// View reads a post and counts the view. The count is a plain read then write: concurrent
// viewers of the same post may lose increments.
func (s *Service) View(ctx context.Context, id string, identity auth.Identity) (_ *Detail, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postsService.view")
	span.SetAttributes(attribute.String("post.id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	views, err := s.records.Views(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		log.Errorf("posts: read views of [%s]: %s", id, err)
	default:
		if err := s.records.SetViews(ctx, id, views+1); err != nil {
			log.Errorf("posts: increment views of [%s]: %s", id, err)
		} else {
			s.metricsManager.CounterPostViews.Inc()
		}
	}

	post, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, retrievalErr("get post", err)
	}

	return &Detail{
		Post:    *post,
		CanEdit: !identity.IsAnonymous() && identity.ID == post.Author,
	}, nil
}

func (s *Service) Create(ctx context.Context, identity auth.Identity, params CreateParams) (_ *CreateResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postsService.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if identity.IsAnonymous() {
		return nil, ErrUnauthenticated
	}

	title, content, err := validateText(params.Title, params.Content)
	if err != nil {
		return nil, err
	}
	if err := validateImage(params.Image, s.maxImageSize); err != nil {
		return nil, err
	}
	if len(params.IdempotencyKey) > maxIdempotencyKeyLen {
		return nil, validationErr("idempotency key too long")
	}

	unlock := s.guard.Lock(identity.ID)
	defer unlock()

	useIdempotency := params.IdempotencyKey != "" && s.idempotency != nil
	if useIdempotency {
		existingID, reserved, err := s.idempotency.Reserve(ctx, identity.ID, params.IdempotencyKey)
		if err != nil {
			if errors.Is(err, ErrSubmitPending) {
				return nil, err
			}
			return nil, retrievalErr("reserve idempotency key", err)
		}
		if !reserved {
			return s.replay(ctx, existingID)
		}
	}

	committed := false
	defer func() {
		if useIdempotency && !committed {
			// the request may be gone already, the key must still be freed for the retry
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyTimeout)
			defer cancel()
			if err := s.idempotency.Release(releaseCtx, identity.ID, params.IdempotencyKey); err != nil {
				log.Errorf("posts: release idempotency key: %s", err)
			}
		}
	}()

	result := &CreateResult{}
	post := &Post{
		Title:   title,
		Content: content,
		Author:  identity.ID,
	}

	if params.Image != nil {
		img, imgErr := s.upload(ctx, identity.ID, params.Image)
		if imgErr != nil {
			result.ImageErr = imgErr
		} else {
			post.Image = img
		}
	}

	inserted, err := s.records.Insert(ctx, post)
	if err != nil {
		if post.Image != nil {
			s.scheduleCleanup(post.Image.Path)
		}
		return nil, retrievalErr("insert post", err)
	}
	committed = true

	if useIdempotency {
		completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyTimeout)
		err := s.idempotency.Complete(completeCtx, identity.ID, params.IdempotencyKey, inserted.ID)
		cancel()
		if err != nil {
			log.Errorf("posts: complete idempotency key for [%s]: %s", inserted.ID, err)
		}
	}

	s.metricsManager.CounterPostsCreated.Inc()
	span.SetAttributes(attribute.String("post.id", inserted.ID))
	log.Debugf("posts: [%s] created by [%s]", inserted.ID, identity.ID)

	result.Post = inserted
	return result, nil
}

func (s *Service) replay(ctx context.Context, postID string) (*CreateResult, error) {
	post, err := s.records.Get(ctx, postID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, retrievalErr("get replayed post", err)
	}

	s.metricsManager.CounterIdempotentReplays.Inc()
	log.Debugf("posts: replayed create of [%s]", postID)
	return &CreateResult{Post: post, Replayed: true}, nil
}

// Update rewrites title and content. A new image replaces the old one only once it is stored;
// a failed upload keeps the previous image.
func (s *Service) Update(ctx context.Context, identity auth.Identity, id string, params UpdateParams) (_ *UpdateResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postsService.update")
	span.SetAttributes(attribute.String("post.id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if identity.IsAnonymous() {
		return nil, ErrUnauthenticated
	}

	title, content, err := validateText(params.Title, params.Content)
	if err != nil {
		return nil, err
	}
	if err := validateImage(params.Image, s.maxImageSize); err != nil {
		return nil, err
	}

	unlock := s.guard.Lock(identity.ID)
	defer unlock()

	current, err := s.getOwned(ctx, identity, id)
	if err != nil {
		return nil, err
	}

	result := &UpdateResult{}
	fields := UpdateFields{
		Title:   title,
		Content: content,
	}

	var uploaded *Image
	if params.Image != nil {
		img, imgErr := s.upload(ctx, identity.ID, params.Image)
		if imgErr != nil {
			result.ImageErr = imgErr
		} else {
			uploaded = img
			fields.Image = img
		}
	}

	rows, err := s.records.Update(ctx, id, identity.ID, fields)
	if err != nil || rows == 0 {
		if uploaded != nil {
			s.scheduleCleanup(uploaded.Path)
		}
		if err != nil {
			return nil, retrievalErr("update post", err)
		}
		return nil, ErrForbidden
	}

	if uploaded != nil && current.Image != nil && current.Image.Path != uploaded.Path {
		s.scheduleCleanup(current.Image.Path)
	}

	s.metricsManager.CounterPostsUpdated.Inc()

	updated, err := s.records.Get(ctx, id)
	if err != nil {
		log.Errorf("posts: re-read updated post [%s]: %s", id, err)
		updated = current
		updated.Title = title
		updated.Content = content
		if uploaded != nil {
			updated.Image = uploaded
		}
	}

	result.Post = updated
	return result, nil
}

// Delete removes the post of its author. The attached image is deleted first; failing to do so
// leaves an orphaned blob but never blocks the record delete.
func (s *Service) Delete(ctx context.Context, identity auth.Identity, id string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postsService.delete")
	span.SetAttributes(attribute.String("post.id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if identity.IsAnonymous() {
		return ErrUnauthenticated
	}

	unlock := s.guard.Lock(identity.ID)
	defer unlock()

	current, err := s.getOwned(ctx, identity, id)
	if err != nil {
		return err
	}

	if current.Image != nil {
		if err := s.blobs.Delete(ctx, current.Image.Path); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			s.reportImageErr(&ImageError{Op: ImageOpDelete, Path: current.Image.Path, Err: err})
		}
	}

	rows, err := s.records.Delete(ctx, id, identity.ID)
	if err != nil {
		return retrievalErr("delete post", err)
	}
	if rows == 0 {
		return ErrForbidden
	}

	s.metricsManager.CounterPostsDeleted.Inc()
	log.Debugf("posts: [%s] deleted by [%s]", id, identity.ID)
	return nil
}

func (s *Service) getOwned(ctx context.Context, identity auth.Identity, id string) (*Post, error) {
	post, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, retrievalErr("get post", err)
	}
	if post.Author != identity.ID {
		return nil, ErrForbidden
	}
	return post, nil
}

func (s *Service) upload(ctx context.Context, identityID string, img *ImageUpload) (*Image, *ImageError) {
	objectPath := ImagePath(identityID, s.NowFunc(), img.Filename, img.ContentType)
	stored, err := s.blobs.Put(
		ctx,
		objectPath,
		bytes.NewReader(img.Data),
		blobstore.PutOptions{
			NoOverwrite: true,
			ContentType: img.ContentType,
			Size:        int64(len(img.Data)),
		},
	)
	if err != nil {
		s.metricsManager.CounterImageUploadsFailed.Inc()
		log.Errorf("posts: upload image [%s]: %s", objectPath, err)
		return nil, &ImageError{Op: ImageOpUpload, Path: objectPath, Err: err}
	}

	return &Image{
		Path: stored,
		URL:  s.blobs.PublicURL(stored),
	}, nil
}

func (s *Service) scheduleCleanup(objectPath string) {
	if s.cleaner != nil {
		s.cleaner.Schedule(objectPath)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.blobs.Delete(ctx, objectPath); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.reportImageErr(&ImageError{Op: ImageOpDelete, Path: objectPath, Err: err})
	}
}

func (s *Service) reportImageErr(imgErr *ImageError) {
	if s.cleaner != nil {
		s.cleaner.Report(imgErr)
		return
	}
	log.Errorf("posts: orphaned blob left behind: %s", imgErr)
	s.metricsManager.CounterImageCleanupsFailed.Inc()
}
