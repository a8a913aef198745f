//go:build !cgo

package ocr

import "context"

// Tesseract is a stub for builds without CGO.
type Tesseract struct {
	language string
}

func NewTesseract(language string) (*Tesseract, error) {
	return &Tesseract{language: language}, nil
}

func (t *Tesseract) ExtractText(context.Context, []byte) (string, error) {
	return "", ErrUnavailable
}
