package imaging

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/agrisol/cropdoctor/internal/errors"
)

// UploadPolicy holds the boundary checks applied to uploads before decoding.
type UploadPolicy struct {
	MaxBytes          int64
	AllowedExtensions []string // lower case with leading dot
}

// ValidateUpload checks the file name and size of an upload. It does not look at the content.
func (p UploadPolicy) ValidateUpload(filename string, size int64) error {
	if strings.TrimSpace(filename) == "" {
		return errors.New(ErrMissingFilename).
			Component("imaging").
			Category(errors.CategoryValidation).
			Build()
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(p.AllowedExtensions, ext) {
		return errors.New(fmt.Errorf("%w %q, allowed: %s", ErrUnsupportedExtension, ext, strings.Join(p.AllowedExtensions, ", "))).
			Component("imaging").
			Category(errors.CategoryValidation).
			Context("extension", ext).
			Build()
	}

	if size == 0 {
		return errors.New(ErrEmptyImage).
			Component("imaging").
			Category(errors.CategoryValidation).
			Build()
	}
	if p.MaxBytes > 0 && size > p.MaxBytes {
		return errors.New(fmt.Errorf("%w: maximum size is %d bytes", ErrFileTooLarge, p.MaxBytes)).
			Component("imaging").
			Category(errors.CategoryValidation).
			FileContext(filename, size).
			Build()
	}

	return nil
}
