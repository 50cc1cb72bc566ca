package analysis

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// DefaultAllowedTypes are the file extensions the uploader accepts.
var DefaultAllowedTypes = []string{"pdf", "png", "jpg", "jpeg"}

var (
	// ErrNoInput means no file was provided; callers show the waiting state.
	ErrNoInput = errors.New("no clinical document provided")
	// ErrUnsupportedUpload means the provided file was rejected.
	ErrUnsupportedUpload = errors.New("unsupported upload")
)

// Upload describes a provided file. Only its presence matters: contents
// are never read.
type Upload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size"`
}

// Extension returns the lower-case extension of the file name, without dot.
func (u Upload) Extension() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(u.Name)), ".")
}

// Validate checks u against the allowed extensions. When the name has no
// extension the MIME type is consulted instead.
func (u Upload) Validate(allowed []string) error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: missing file name", ErrUnsupportedUpload)
	}
	if u.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrUnsupportedUpload, u.Size)
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}

	candidates := []string{u.Extension()}
	if candidates[0] == "" && u.MimeType != "" {
		candidates = candidates[:0]
		if exts, err := mime.ExtensionsByType(u.MimeType); err == nil {
			for _, ext := range exts {
				candidates = append(candidates, strings.TrimPrefix(ext, "."))
			}
		}
		if _, sub, ok := strings.Cut(u.MimeType, "/"); ok {
			candidates = append(candidates, strings.ToLower(sub))
		}
	}

	for _, c := range candidates {
		for _, a := range allowed {
			if c != "" && strings.EqualFold(c, strings.TrimPrefix(a, ".")) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %q is not one of %s", ErrUnsupportedUpload, u.Name, strings.Join(allowed, ", "))
}

// RejectReason is a short label for metrics.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNoInput):
		return "no_input"
	case errors.Is(err, ErrUnsupportedUpload):
		return "unsupported"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case err != nil:
		return "error"
	}
	return ""
}
