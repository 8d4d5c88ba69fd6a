package posts

import (
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/2beens/postboard/internal/blobstore"
	"github.com/2beens/postboard/pkg"
)

const DefaultMaxImageSize = 5 << 20

func validateText(title, content string) (string, string, error) {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" {
		return "", "", validationErr("title empty")
	}
	if content == "" {
		return "", "", validationErr("content empty")
	}
	return title, content, nil
}

// validateImage accepts images up to and including maxSize bytes with an image/* content type.
func validateImage(img *ImageUpload, maxSize int64) error {
	if img == nil {
		return nil
	}
	if len(img.Data) == 0 {
		return validationErr("image empty")
	}
	if int64(len(img.Data)) > maxSize {
		return validationErr("image larger than %d bytes", maxSize)
	}
	mediaType := imageMediaType(img.ContentType)
	if !strings.HasPrefix(mediaType, "image/") {
		return validationErr("content type [%s] is not an image", img.ContentType)
	}
	if blobstore.ImageExtension(mediaType) == "" {
		return validationErr("image type [%s] not supported", img.ContentType)
	}
	return nil
}

// imageMediaType is the lower-cased media type without parameters, empty if unparsable.
func imageMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mediaType
}

// ImagePath namespaces uploads by identity and creation time: posts/<identity>/<unix-nanos>_<name><ext>.
// The extension follows the validated content type, never the client filename.
func ImagePath(identityID string, at time.Time, filename, contentType string) string {
	name := strings.TrimSuffix(filename, path.Ext(filename))
	if name == "" {
		name = "image"
	}
	return fmt.Sprintf(
		"posts/%s/%d_%s%s",
		pkg.SanitizeFileName(identityID),
		at.UnixNano(),
		pkg.SanitizeFileName(name),
		blobstore.ImageExtension(imageMediaType(contentType)),
	)
}
