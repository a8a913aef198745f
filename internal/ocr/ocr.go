// Package ocr recognizes text in page images.
package ocr

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the binary was built without an OCR engine.
var ErrUnavailable = errors.New("ocr engine unavailable")

// Engine turns one image into text.
type Engine interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// Disabled is an Engine used when OCR is switched off in config.
type Disabled struct{}

func (Disabled) ExtractText(context.Context, []byte) (string, error) {
	return "", ErrUnavailable
}
