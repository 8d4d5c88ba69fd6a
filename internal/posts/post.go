package posts

import (
	"time"
)

// Image is a post attachment kept in the blob store.
type Image struct {
	Path string `json:"path" bson:"path"`
	URL  string `json:"url" bson:"url"`
}

type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Views     int64     `json:"views"`
	Image     *Image    `json:"image,omitempty"`
}

func (p *Post) Summary() Summary {
	return Summary{
		ID:        p.ID,
		Title:     p.Title,
		Author:    p.Author,
		CreatedAt: p.CreatedAt,
		Views:     p.Views,
		HasImage:  p.Image != nil,
	}
}

type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Views     int64     `json:"views"`
	HasImage  bool      `json:"has_image"`
}

// Detail is a post as seen by a particular identity.
type Detail struct {
	Post
	CanEdit bool `json:"can_edit"`
}

// ImageUpload is an image attached to a create or update submit.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type CreateParams struct {
	Title   string
	Content string
	Image   *ImageUpload
	// IdempotencyKey is optional; a repeated key returns the post created by the first submit.
	IdempotencyKey string
}

type UpdateParams struct {
	Title   string
	Content string
	Image   *ImageUpload
}

// UpdateFields is what the record store writes. A nil Image leaves the stored reference untouched.
type UpdateFields struct {
	Title   string
	Content string
	Image   *Image
}

type CreateResult struct {
	Post     *Post
	ImageErr *ImageError
	Replayed bool
}

type UpdateResult struct {
	Post     *Post
	ImageErr *ImageError
}
