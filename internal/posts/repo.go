package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/postboard/internal/telemetry/tracing"
	"github.com/2beens/postboard/pkg"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var _ RecordStore = (*Repo)(nil)

// Repo stores posts in postgres.
type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

// isPostID reports whether id can be a stored post id; anything else matches no rows.
func isPostID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const postColumns = `id, title, content, author, created_at, views, image_path, image_url`

func scanPost(row pgx.Row) (*Post, error) {
	var (
		p         Post
		id        uuid.UUID
		imagePath *string
		imageURL  *string
	)
	if err := row.Scan(&id, &p.Title, &p.Content, &p.Author, &p.CreatedAt, &p.Views, &imagePath, &imageURL); err != nil {
		return nil, err
	}
	p.ID = id.String()
	if imagePath != nil && *imagePath != "" {
		p.Image = &Image{Path: *imagePath}
		if imageURL != nil {
			p.Image.URL = *imageURL
		}
	}
	return &p, nil
}

func (r *Repo) All(ctx context.Context) (_ []Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postsRepo.all")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(
		ctx,
		`
			SELECT
				`+postColumns+`
			FROM post
			ORDER BY created_at DESC;`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		posts = append(posts, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("posts.count", len(posts)))
	return posts, nil
}

func (r *Repo) Get(ctx context.Context, id string) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postsRepo.get")
	span.SetAttributes(attribute.String("post.id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if !isPostID(id) {
		return nil, ErrNotFound
	}

	p, err := scanPost(r.db.QueryRow(
		ctx,
		`SELECT `+postColumns+` FROM post WHERE id = $1;`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pkg.IsInvalidTextRepresentation(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *Repo) Insert(ctx context.Context, post *Post) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postsRepo.insert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if post.Title == "" || post.Content == "" || post.Author == "" {
		return nil, errors.New("post title, content or author empty")
	}

	var imagePath, imageURL *string
	if post.Image != nil {
		imagePath, imageURL = &post.Image.Path, &post.Image.URL
	}

	id := uuid.New()
	var createdAt time.Time
	if err := r.db.QueryRow(
		ctx,
		`INSERT INTO post (id, title, content, author, image_path, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at;`,
		id, post.Title, post.Content, post.Author, imagePath, imageURL,
	).Scan(&createdAt); err != nil {
		return nil, err
	}

	inserted := *post
	inserted.ID = id.String()
	inserted.CreatedAt = createdAt
	inserted.Views = 0
	span.SetAttributes(attribute.String("post.id", inserted.ID))

	return &inserted, nil
}

func (r *Repo) Update(ctx context.Context, id, author string, fields UpdateFields) (_ int64, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postsRepo.update")
	span.SetAttributes(attribute.String("post.id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if !isPostID(id) {
		return 0, nil
	}

	var imagePath, imageURL *string
	if fields.Image != nil {
		imagePath, imageURL = &fields.Image.Path, &fields.Image.URL
	}

	// a NULL image keeps the stored reference
	tag, err := r.db.Exec(
		ctx,
		`UPDATE post SET
			title = $1,
			content = $2,
			image_path = COALESCE($3, image_path),
			image_url = COALESCE($4, image_url)
		WHERE id = $5 AND author = $6;`,
		fields.Title, fields.Content, imagePath, imageURL, id, author,
	)
	if err != nil {
		if pkg.IsInvalidTextRepresentation(err) {
			return 0, nil
		}
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (r *Repo) Delete(ctx context.Context, id, author string) (_ int64, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postsRepo.delete")
	span.SetAttributes(attribute.String("post.id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if !isPostID(id) {
		return 0, nil
	}

	tag, err := r.db.Exec(
		ctx,
		`DELETE FROM post WHERE id = $1 AND author = $2;`,
		id, author,
	)
	if err != nil {
		if pkg.IsInvalidTextRepresentation(err) {
			return 0, nil
		}
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (r *Repo) Views(ctx context.Context, id string) (int64, error) {
	if !isPostID(id) {
		return 0, ErrNotFound
	}

	var views int64
	if err := r.db.QueryRow(
		ctx,
		`SELECT views FROM post WHERE id = $1;`,
		id,
	).Scan(&views); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pkg.IsInvalidTextRepresentation(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return views, nil
}

func (r *Repo) SetViews(ctx context.Context, id string, views int64) error {
	if !isPostID(id) {
		return ErrNotFound
	}

	tag, err := r.db.Exec(
		ctx,
		`UPDATE post SET views = $1 WHERE id = $2;`,
		views, id,
	)
	if err != nil {
		if pkg.IsInvalidTextRepresentation(err) {
			return ErrNotFound
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
