package posts

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2beens/postboard/internal/auth"
	"github.com/2beens/postboard/internal/telemetry/tracing"
	"github.com/2beens/postboard/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"

	multipartMaxMemory = 8 << 20
	// room for the text fields and multipart framing on top of the image
	requestOverhead = 1 << 20
)

type Handler struct {
	service      *Service
	maxImageSize int64
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:      service,
		maxImageSize: service.maxImageSize,
	}
}

func (handler *Handler) SetupRoutes(mainRouter *mux.Router) {
	postsRouter := mainRouter.PathPrefix("/posts").Subrouter()
	postsRouter.HandleFunc("", handler.handleList).Methods("GET").Name("posts-list")
	postsRouter.HandleFunc("", handler.handleCreate).Methods("POST", "OPTIONS").Name("post-create")
	postsRouter.HandleFunc("/{id}", handler.handleGet).Methods("GET").Name("post-get")
	postsRouter.HandleFunc("/{id}", handler.handleUpdate).Methods("PUT", "OPTIONS").Name("post-update")
	postsRouter.HandleFunc("/{id}", handler.handleDelete).Methods("DELETE", "OPTIONS").Name("post-delete")
}

type listResponse struct {
	Posts []Summary `json:"posts"`
	Total int       `json:"total"`
}

type mutationResponse struct {
	Post       *Post  `json:"post"`
	ImageError string `json:"image_error,omitempty"`
	Replayed   bool   `json:"replayed,omitempty"`
}

// writeServiceError maps controller errors to statuses. Forbidden reads as not found, so
// nobody learns about posts they can not touch.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnauthenticated):
		http.Error(w, "no can do", http.StatusUnauthorized)
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrSubmitPending):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Errorf("posts handler: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (handler *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := handler.service.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkg.WriteJSONResponseOK(w, listResponse{
		Posts: summaries,
		Total: len(summaries),
	})
}

func (handler *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	identity := auth.IdentityFromContext(r.Context())

	detail, err := handler.service.View(r.Context(), id, identity)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkg.WriteJSONResponseOK(w, detail)
}

type submitImage struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	// base64 in JSON
	Data []byte `json:"data"`
}

type submitRequest struct {
	Title   string       `json:"title"`
	Content string       `json:"content"`
	Image   *submitImage `json:"image,omitempty"`
}

type submitForm struct {
	Title   string
	Content string
	Image   *ImageUpload
}

func (handler *Handler) readSubmit(w http.ResponseWriter, r *http.Request) (*submitForm, error) {
	contentType := r.Header.Get("Content-Type")
	isJSON := strings.HasPrefix(contentType, "application/json")
	r.Body = http.MaxBytesReader(w, r.Body, handler.bodyLimit(isJSON))

	if isJSON {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, bodyErr(err)
		}
		form := &submitForm{Title: req.Title, Content: req.Content}
		if req.Image != nil {
			form.Image = &ImageUpload{
				Filename:    req.Image.Filename,
				ContentType: req.Image.ContentType,
				Data:        req.Image.Data,
			}
		}
		return form, nil
	}

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(multipartMaxMemory); err != nil {
			return nil, bodyErr(err)
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, bodyErr(err)
	}

	form := &submitForm{
		Title:   r.FormValue("title"),
		Content: r.FormValue("content"),
	}
	if r.MultipartForm == nil {
		return form, nil
	}

	file, fileHeader, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return form, nil
		}
		return nil, bodyErr(err)
	}
	defer file.Close()

	// one byte over the limit is enough for the size check to fail
	data, err := io.ReadAll(io.LimitReader(file, handler.maxImageSize+1))
	if err != nil {
		return nil, bodyErr(err)
	}

	log.Debugf("posts handler: image [%s], size %d, type %s", fileHeader.Filename, fileHeader.Size, fileHeader.Header.Get("Content-Type"))
	form.Image = &ImageUpload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}
	return form, nil
}

// bodyLimit leaves room for a full size image; JSON carries it base64 encoded.
func (handler *Handler) bodyLimit(isJSON bool) int64 {
	if isJSON {
		return int64(base64.StdEncoding.EncodedLen(int(handler.maxImageSize))) + requestOverhead
	}
	return handler.maxImageSize + requestOverhead
}

func bodyErr(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return validationErr("request larger than %d bytes", maxBytesErr.Limit)
	}
	return validationErr("read request: %s", err)
}

func (handler *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "postsHandler.create")
	defer span.End()

	identity := auth.IdentityFromContext(ctx)
	if identity.IsAnonymous() {
		writeServiceError(w, ErrUnauthenticated)
		return
	}

	form, err := handler.readSubmit(w, r)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeServiceError(w, err)
		return
	}

	result, err := handler.service.Create(ctx, identity, CreateParams{
		Title:          form.Title,
		Content:        form.Content,
		Image:          form.Image,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeServiceError(w, err)
		return
	}

	span.SetAttributes(attribute.String("post.id", result.Post.ID))
	resp := mutationResponse{
		Post:     result.Post,
		Replayed: result.Replayed,
	}
	if result.ImageErr != nil {
		resp.ImageError = fmt.Sprintf("post saved without image: %s", result.ImageErr.Err)
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	pkg.WriteJSONResponse(w, resp, status)
}

func (handler *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "postsHandler.update")
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("post.id", id))

	identity := auth.IdentityFromContext(ctx)
	if identity.IsAnonymous() {
		writeServiceError(w, ErrUnauthenticated)
		return
	}

	form, err := handler.readSubmit(w, r)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeServiceError(w, err)
		return
	}

	result, err := handler.service.Update(ctx, identity, id, UpdateParams{
		Title:   form.Title,
		Content: form.Content,
		Image:   form.Image,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeServiceError(w, err)
		return
	}

	resp := mutationResponse{Post: result.Post}
	if result.ImageErr != nil {
		resp.ImageError = fmt.Sprintf("previous image kept: %s", result.ImageErr.Err)
	}
	pkg.WriteJSONResponseOK(w, resp)
}

func (handler *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "postsHandler.delete")
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("post.id", id))

	if err := handler.service.Delete(ctx, auth.IdentityFromContext(ctx), id); err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeServiceError(w, err)
		return
	}

	pkg.WriteTextResponseOK(w, "deleted")
}
