package overlay

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// stampFont is a PDF core font, always available without embedding.
const stampFont = "Helvetica-Bold"

func pdfConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	// Uploaded templates come from arbitrary producers; strict validation
	// rejects too many of them.
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// overlayPDF keeps the first page of the template and stamps each field
// onto it at absolute page coordinates.
func (e *Engine) overlayPDF(template []byte, fields []Field) ([]byte, error) {
	conf := pdfConfiguration()

	// Reduce to page one. Multi-page templates lose their later pages;
	// certificates are single-page artifacts.
	var firstPage bytes.Buffer
	if err := api.Trim(bytes.NewReader(template), &firstPage, []string{"1"}, conf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	current := firstPage.Bytes()
	for _, f := range fields {
		desc := fmt.Sprintf(
			"fontname:%s, points:%d, scalefactor:1 abs, position:bl, offset:%.0f %.0f, rotation:0, opacity:1, fillcolor:#000000",
			stampFont, f.Points, f.X, f.Y,
		)
		wm, err := api.TextWatermark(f.Text, desc, true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("%w: build stamp: %v", ErrEncode, err)
		}
		var stamped bytes.Buffer
		if err := api.AddWatermarks(bytes.NewReader(current), &stamped, nil, wm, conf); err != nil {
			return nil, fmt.Errorf("%w: apply stamp: %v", ErrEncode, err)
		}
		current = stamped.Bytes()
	}
	return current, nil
}
