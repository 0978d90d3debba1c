package ocr

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// rasterizeImage treats a single image as a one-page document.
func (r *Rasterizer) rasterizeImage(path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open image: %v", ErrCorruptArtifact, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrCorruptArtifact, err)
	}
	r.logger.Debug("ocr.image.decoded", "path", path, "format", format, "color_model", fmt.Sprintf("%T", img))
	return []Page{{Index: 1, Image: NormalizeColor(img)}}, nil
}

// NormalizeColor returns img unchanged when it is already gray or RGB(A), and
// otherwise (palette, CMYK, YCbCr) flattens it onto white as RGBA.
func NormalizeColor(img image.Image) image.Image {
	switch img.(type) {
	case *image.Gray, *image.Gray16, *image.RGBA, *image.RGBA64, *image.NRGBA, *image.NRGBA64:
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}
