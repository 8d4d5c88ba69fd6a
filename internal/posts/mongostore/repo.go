package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/postboard/internal/posts"
	"github.com/2beens/postboard/internal/telemetry/tracing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
)

const postsCollection = "posts"

var _ posts.RecordStore = (*Repo)(nil)

type postDocument struct {
	ID        string       `bson:"_id"`
	Title     string       `bson:"title"`
	Content   string       `bson:"content"`
	Author    string       `bson:"author"`
	CreatedAt time.Time    `bson:"created_at"`
	Views     int64        `bson:"views"`
	Image     *posts.Image `bson:"image,omitempty"`
}

func (d *postDocument) toPost() *posts.Post {
	return &posts.Post{
		ID:        d.ID,
		Title:     d.Title,
		Content:   d.Content,
		Author:    d.Author,
		CreatedAt: d.CreatedAt,
		Views:     d.Views,
		Image:     d.Image,
	}
}

// Repo stores posts in a mongo collection keyed by the post uuid.
type Repo struct {
	posts   *mongo.Collection
	NowFunc func() time.Time
}

func NewRepo(collection *mongo.Collection) *Repo {
	return &Repo{
		posts:   collection,
		NowFunc: time.Now,
	}
}

// Connect opens the client and makes sure the listing and ownership indexes exist.
func Connect(ctx context.Context, dbURL, dbName string) (*Repo, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dbURL))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	collection := client.Database(dbName).Collection(postsCollection)
	if err := ensureIndexes(ctx, collection); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}

	log.Debugf("mongo posts store ready, db: %s", dbName)
	return NewRepo(collection), client, nil
}

func ensureIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "_id", Value: 1}, {Key: "author", Value: 1}}},
	}
	opts := options.CreateIndexes().SetMaxTime(10 * time.Second)

	if _, err := collection.Indexes().CreateMany(ctx, indexModels, opts); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return nil
}

func (r *Repo) All(ctx context.Context) (_ []posts.Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoPostsRepo.all")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	cursor, err := r.posts.Find(
		ctx,
		bson.D{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find posts: %w", err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			log.Errorf("mongo cursor close: %s", err)
		}
	}()

	var all []posts.Post
	for cursor.Next(ctx) {
		var doc postDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode post: %w", err)
		}
		all = append(all, *doc.toPost())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("posts.count", len(all)))
	return all, nil
}

func (r *Repo) Get(ctx context.Context, id string) (_ *posts.Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoPostsRepo.get")
	span.SetAttributes(attribute.String("post.id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var doc postDocument
	if err := r.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, posts.ErrNotFound
		}
		return nil, fmt.Errorf("find post: %w", err)
	}
	return doc.toPost(), nil
}

func (r *Repo) Insert(ctx context.Context, post *posts.Post) (_ *posts.Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoPostsRepo.insert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	// mongo keeps millisecond precision
	createdAt := r.NowFunc().UTC().Truncate(time.Millisecond)
	doc := postDocument{
		ID:        uuid.NewString(),
		Title:     post.Title,
		Content:   post.Content,
		Author:    post.Author,
		CreatedAt: createdAt,
		Image:     post.Image,
	}
	if _, err := r.posts.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}

	span.SetAttributes(attribute.String("post.id", doc.ID))
	return doc.toPost(), nil
}

func (r *Repo) Update(ctx context.Context, id, author string, fields posts.UpdateFields) (_ int64, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoPostsRepo.update")
	span.SetAttributes(attribute.String("post.id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	set := bson.M{
		"title":   fields.Title,
		"content": fields.Content,
	}
	if fields.Image != nil {
		set["image"] = fields.Image
	}

	res, err := r.posts.UpdateOne(ctx, bson.M{"_id": id, "author": author}, bson.M{"$set": set})
	if err != nil {
		return 0, fmt.Errorf("update post: %w", err)
	}
	// matched, not modified: an update writing identical values still hit the post
	return res.MatchedCount, nil
}

func (r *Repo) Delete(ctx context.Context, id, author string) (_ int64, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "mongoPostsRepo.delete")
	span.SetAttributes(attribute.String("post.id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	res, err := r.posts.DeleteOne(ctx, bson.M{"_id": id, "author": author})
	if err != nil {
		return 0, fmt.Errorf("delete post: %w", err)
	}
	return res.DeletedCount, nil
}

func (r *Repo) Views(ctx context.Context, id string) (int64, error) {
	var doc struct {
		Views int64 `bson:"views"`
	}
	err := r.posts.FindOne(
		ctx,
		bson.M{"_id": id},
		options.FindOne().SetProjection(bson.M{"views": 1}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, posts.ErrNotFound
		}
		return 0, err
	}
	return doc.Views, nil
}

func (r *Repo) SetViews(ctx context.Context, id string, views int64) error {
	res, err := r.posts.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"views": views}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return posts.ErrNotFound
	}
	return nil
}
