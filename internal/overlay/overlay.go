// Package overlay composites text fields onto certificate templates.
//
// The engine is purely functional: it reads the supplied template bytes,
// draws the requested fields and returns new bytes. It keeps no mutable
// state, so one Engine may serve concurrent generation runs.
package overlay

import (
	"errors"
	"fmt"
)

// Format is the stored template format discriminator. Generation trusts this
// value and never re-sniffs the bytes; extension sniffing and content
// sniffing can disagree, and the stored attribute is authoritative.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat validates a raw discriminator. "jpg" is accepted as an alias
// for jpeg since uploads commonly carry that extension.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatPDF:
		return FormatPDF, nil
	case FormatPNG:
		return FormatPNG, nil
	case FormatJPEG, Format("jpg"):
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
}

// Field is one positioned piece of text. Coordinates are template-local
// with the origin at the bottom-left corner, matching the page-description
// convention of the PDF path; the raster path converts internally.
type Field struct {
	Text   string
	X      float64
	Y      float64
	Points int
}

var (
	// ErrUnsupportedFormat rejects template formats outside {pdf, png, jpeg}.
	ErrUnsupportedFormat = errors.New("overlay: unsupported template format")
	// ErrDecode indicates the template bytes could not be decoded as the
	// declared format.
	ErrDecode = errors.New("overlay: template decode failed")
	// ErrEncode indicates the composited output could not be re-encoded.
	ErrEncode = errors.New("overlay: output encode failed")
)

// Engine renders text fields onto PDF or raster templates.
type Engine struct{}

// NewEngine returns a ready engine.
func NewEngine() *Engine { return &Engine{} }

// Overlay draws fields onto the template and returns the result.
//
// PDF templates produce a single-page PDF built from the template's first
// page; later pages of a multi-page template are dropped. Raster templates
// are always re-encoded to PNG regardless of the input raster format, so
// callers get one predictable output container.
func (e *Engine) Overlay(template []byte, format Format, fields []Field) ([]byte, error) {
	if len(template) == 0 {
		return nil, fmt.Errorf("%w: empty template", ErrDecode)
	}
	switch format {
	case FormatPDF:
		return e.overlayPDF(template, fields)
	case FormatPNG, FormatJPEG:
		return e.overlayRaster(template, fields)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// OutputFormat reports the format of Overlay's output for a given input
// format: PDF stays PDF, both raster formats normalize to PNG.
func OutputFormat(format Format) Format {
	if format == FormatPDF {
		return FormatPDF
	}
	return FormatPNG
}
