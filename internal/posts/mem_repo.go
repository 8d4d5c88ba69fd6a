package posts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ RecordStore = (*MemRepo)(nil)

// MemRepo keeps posts in process memory.
type MemRepo struct {
	mutex   sync.RWMutex
	posts   map[string]*Post
	NowFunc func() time.Time
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		posts:   map[string]*Post{},
		NowFunc: time.Now,
	}
}

func copyPost(p *Post) *Post {
	c := *p
	if p.Image != nil {
		img := *p.Image
		c.Image = &img
	}
	return &c
}

func (r *MemRepo) All(_ context.Context) ([]Post, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	all := make([]Post, 0, len(r.posts))
	for _, p := range r.posts {
		all = append(all, *copyPost(p))
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all, nil
}

func (r *MemRepo) Get(_ context.Context, id string) (*Post, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, ok := r.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPost(p), nil
}

func (r *MemRepo) Insert(_ context.Context, post *Post) (*Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored := copyPost(post)
	stored.ID = uuid.NewString()
	stored.CreatedAt = r.NowFunc().UTC()
	stored.Views = 0
	r.posts[stored.ID] = stored

	return copyPost(stored), nil
}

func (r *MemRepo) Update(_ context.Context, id, author string, fields UpdateFields) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	p, ok := r.posts[id]
	if !ok || p.Author != author {
		return 0, nil
	}

	p.Title = fields.Title
	p.Content = fields.Content
	if fields.Image != nil {
		img := *fields.Image
		p.Image = &img
	}
	return 1, nil
}

func (r *MemRepo) Delete(_ context.Context, id, author string) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	p, ok := r.posts[id]
	if !ok || p.Author != author {
		return 0, nil
	}
	delete(r.posts, id)
	return 1, nil
}

func (r *MemRepo) Views(_ context.Context, id string) (int64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, ok := r.posts[id]
	if !ok {
		return 0, ErrNotFound
	}
	return p.Views, nil
}

func (r *MemRepo) SetViews(_ context.Context, id string, views int64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return ErrNotFound
	}
	p.Views = views
	return nil
}
