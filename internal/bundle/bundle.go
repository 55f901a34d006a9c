// Package bundle turns generated codes into QR images and packs them into a
// single zip for delivery.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"

	"promo-code-engine/internal/engine"
)

type Renderer interface {
	Render(content string) ([]byte, error)
}

// QRRenderer renders PNG QR codes with the highest error correction.
type QRRenderer struct {
	Size int
}

func (q QRRenderer) Render(content string) ([]byte, error) {
	png, err := qrcode.Encode(content, qrcode.Highest, q.Size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

type Packager struct {
	renderer Renderer
}

func NewPackager(r Renderer) *Packager { return &Packager{renderer: r} }

func FileName(lot, code int) string { return fmt.Sprintf("lot_%d_code_%d.png", lot, code) }

// Write streams a zip holding one image per code of every lot.
func (p *Packager) Write(w io.Writer, lots []engine.Result) error {
	zw := zip.NewWriter(w)
	for i, lot := range lots {
		for j, code := range lot.Codes {
			img, err := p.renderer.Render(code.Code)
			if err != nil {
				return err
			}
			f, err := zw.Create(FileName(i+1, j+1))
			if err != nil {
				return fmt.Errorf("zip entry: %w", err)
			}
			if _, err := f.Write(img); err != nil {
				return fmt.Errorf("zip write: %w", err)
			}
		}
	}
	return zw.Close()
}
