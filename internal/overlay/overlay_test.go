package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// pngTemplate renders a plain white template image of the given size.
func pngTemplate(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode template: %v", err)
	}
	return buf.Bytes()
}

func jpegTemplate(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode template: %v", err)
	}
	return buf.Bytes()
}

// pdfTemplate builds a minimal single-page PDF with a correct xref table.
func pdfTemplate(t *testing.T) []byte {
	t.Helper()
	var b bytes.Buffer
	var offsets []int
	obj := func(s string) {
		offsets = append(offsets, b.Len())
		b.WriteString(s)
	}
	b.WriteString("%PDF-1.4\n")
	obj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	obj("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	obj("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents 4 0 R >>\nendobj\n")
	content := "q Q"
	obj(fmt.Sprintf("4 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content))
	xrefStart := b.Len()
	b.WriteString("xref\n0 5\n0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size 5 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefStart)
	return b.Bytes()
}

func nameFields() []Field {
	return []Field{
		{Text: "Name: Alice Example", X: 200, Y: 400, Points: 24},
		{Text: "USN: 1AB21CS001", X: 200, Y: 368, Points: 18},
	}
}

func TestOverlayPNGProducesPNG(t *testing.T) {
	e := NewEngine()
	out, err := e.Overlay(pngTemplate(t, 600, 400), FormatPNG, nameFields())
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "png" {
		t.Fatalf("expected png output, got %s", format)
	}
	if got := img.Bounds(); got.Dx() != 600 || got.Dy() != 400 {
		t.Fatalf("output dimensions changed: %v", got)
	}
}

func TestOverlayJPEGNormalizesToPNG(t *testing.T) {
	e := NewEngine()
	out, err := e.Overlay(jpegTemplate(t, 300, 200), FormatJPEG, nameFields())
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	_, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "png" {
		t.Fatalf("jpeg input must normalize to png, got %s", format)
	}
}

func TestOverlayChangesPixels(t *testing.T) {
	e := NewEngine()
	tmpl := pngTemplate(t, 600, 400)
	out, err := e.Overlay(tmpl, FormatPNG, []Field{{Text: "DRAWN", X: 50, Y: 200, Points: 24}})
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	src, _, _ := image.Decode(bytes.NewReader(tmpl))
	dst, _, _ := image.Decode(bytes.NewReader(out))
	changed := false
	bounds := src.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y && !changed; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if src.At(x, y) != dst.At(x, y) {
				changed = true
				break
			}
		}
	}
	if !changed {
		t.Fatal("expected drawn text to alter pixels")
	}
}

func TestOverlayPDF(t *testing.T) {
	e := NewEngine()
	out, err := e.Overlay(pdfTemplate(t), FormatPDF, nameFields())
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Fatalf("output is not a PDF, starts with %q", out[:min(8, len(out))])
	}
}

func TestOverlayUnsupportedFormat(t *testing.T) {
	e := NewEngine()
	if _, err := e.Overlay([]byte("whatever"), Format("docx"), nameFields()); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestOverlayRejectsGarbageTemplate(t *testing.T) {
	e := NewEngine()
	if _, err := e.Overlay([]byte("not an image"), FormatPNG, nameFields()); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if _, err := e.Overlay(nil, FormatPNG, nameFields()); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for empty template, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		raw  string
		want Format
		ok   bool
	}{
		{"pdf", FormatPDF, true},
		{"png", FormatPNG, true},
		{"jpeg", FormatJPEG, true},
		{"jpg", FormatJPEG, true},
		{"docx", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.raw)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseFormat(%q) = %v, %v; want %v", tc.raw, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("ParseFormat(%q) = %v, want ErrUnsupportedFormat", tc.raw, err)
		}
	}
}

func TestOutputFormat(t *testing.T) {
	if OutputFormat(FormatPDF) != FormatPDF {
		t.Fatal("pdf output must stay pdf")
	}
	if OutputFormat(FormatJPEG) != FormatPNG || OutputFormat(FormatPNG) != FormatPNG {
		t.Fatal("raster output must normalize to png")
	}
}
