package blobstore

import (
	"errors"
	"io"
	"net/http"

	"github.com/2beens/postboard/internal/telemetry/tracing"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Handler serves stored objects under the images route.
type Handler struct {
	opener Opener
}

func NewHandler(opener Opener) *Handler {
	return &Handler{
		opener: opener,
	}
}

func (handler *Handler) SetupRoutes(mainRouter *mux.Router) {
	mainRouter.HandleFunc("/images/{path:.+}", handler.handleGet).Methods("GET").Name("image")
}

func (handler *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "imagesHandler.get")
	defer span.End()

	objectPath, err := CleanPath(mux.Vars(r)["path"])
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	contentType := ImageContentType(objectPath)
	if contentType == "" {
		log.Warnf("images handler: refusing non-image object [%s]", objectPath)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	span.SetAttributes(attribute.String("object.path", objectPath))

	rc, err := handler.opener.Open(ctx, objectPath)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Errorf("open object [%s]: %s", objectPath, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; sandbox")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		log.Errorf("write object [%s]: %s", objectPath, err)
	}
}
