package posts

import (
	"context"
	"io"

	"github.com/2beens/postboard/internal/blobstore"
)

//go:generate mockgen -source=$GOFILE -destination=store_mocks_test.go -package=posts

// RecordStore holds post records. Update and Delete report the number of rows matching both id and author.
type RecordStore interface {
	All(ctx context.Context) ([]Post, error)
	Get(ctx context.Context, id string) (*Post, error)
	Insert(ctx context.Context, post *Post) (*Post, error)
	Update(ctx context.Context, id, author string, fields UpdateFields) (int64, error)
	Delete(ctx context.Context, id, author string) (int64, error)
	Views(ctx context.Context, id string) (int64, error)
	SetViews(ctx context.Context, id string, views int64) error
}

type BlobStore interface {
	Put(ctx context.Context, objectPath string, r io.Reader, opts blobstore.PutOptions) (string, error)
	PublicURL(objectPath string) string
	Delete(ctx context.Context, objectPath string) error
}

// IdempotencyStore maps a per-identity submit key to the post it created.
type IdempotencyStore interface {
	// Reserve claims the key. When the key was already completed, the created post id is returned.
	Reserve(ctx context.Context, identityID, key string) (existingPostID string, reserved bool, err error)
	Complete(ctx context.Context, identityID, key, postID string) error
	Release(ctx context.Context, identityID, key string) error
}

var _ BlobStore = (blobstore.Store)(nil)
