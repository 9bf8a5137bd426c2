package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

const jpegQuality = 90

// Draw renders detection boxes and "<class> <score>" labels onto a JPEG frame.
// Boxes of the highlight class are drawn in red, the rest in green.
func Draw(frame models.Frame, dets []models.Detection, highlight int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	dc := gg.NewContextForImage(img)
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetLineWidth(3)

	for _, d := range dets {
		if len(d.Box) != 4 {
			continue
		}
		x1, y1, x2, y2 := d.Box[0], d.Box[1], d.Box[2], d.Box[3]

		if d.ClassID == highlight {
			dc.SetRGB(1, 0, 0)
		} else {
			dc.SetRGB(0, 1, 0)
		}
		dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
		dc.Stroke()

		label := fmt.Sprintf("%s %.2f", d.Class, d.Score)
		w, h := dc.MeasureString(label)
		ty := y1 - 4
		if ty-h < 0 {
			ty = y1 + h + 4
		}
		dc.DrawRectangle(x1, ty-h-2, w+4, h+4)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawString(label, x1+2, ty)
	}

	return encode(dc.Image())
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
