package imageproxy

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// OutputContentType is the media type of every image the proxy serves.
const OutputContentType = "image/webp"

// Dimensions bounds the output. A zero value leaves that side unconstrained.
type Dimensions struct {
	Width  int
	Height int
}

// Processor transcodes an image stream into the normalized output format.
type Processor interface {
	// Process decodes src, resizes it to fit dims and encodes it as WebP.
	Process(src io.Reader, dims Dimensions) ([]byte, error)
}

// ImageProcessor implements Processor with imaging for resampling and a pure
// Go WebP encoder.
type ImageProcessor struct {
	maxPixels int64
}

// NewProcessor creates an ImageProcessor refusing sources with more than
// maxPixels pixels.
func NewProcessor(maxPixels int64) *ImageProcessor {
	return &ImageProcessor{maxPixels: maxPixels}
}

// Process reads the image header first and enforces the pixel ceiling before
// any pixel data is decoded, so a small file that expands to a huge bitmap is
// rejected without allocating it.
func (p *ImageProcessor) Process(src io.Reader, dims Dimensions) ([]byte, error) {
	var header bytes.Buffer
	cfg, format, err := image.DecodeConfig(io.TeeReader(src, &header))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); p.maxPixels > 0 && pixels > p.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d (%s) exceeds %d pixels",
			ErrPixelLimitExceeded, cfg.Width, cfg.Height, format, p.maxPixels)
	}

	img, err := imaging.Decode(io.MultiReader(&header, src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", ErrUnsupportedFormat, err)
	}

	processed := fitInside(img, dims.Width, dims.Height)

	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, processed, nil); err != nil {
		return nil, fmt.Errorf("%w: failed to encode WebP: %v", ErrProcessingFailed, err)
	}
	return buf.Bytes(), nil
}

// fitInside scales the image down to fit within maxWidth x maxHeight while
// preserving aspect ratio. Images already inside the box are not upscaled.
// A zero bound leaves that side free.
func fitInside(img image.Image, maxWidth, maxHeight int) image.Image {
	bounds := img.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()
	if srcWidth == 0 || srcHeight == 0 {
		return img
	}

	scale := 1.0
	if maxWidth > 0 && srcWidth > maxWidth {
		scale = float64(maxWidth) / float64(srcWidth)
	}
	if maxHeight > 0 && srcHeight > maxHeight {
		if s := float64(maxHeight) / float64(srcHeight); s < scale {
			scale = s
		}
	}
	if scale >= 1 {
		return img
	}

	newWidth := max(1, int(float64(srcWidth)*scale+0.5))
	newHeight := max(1, int(float64(srcHeight)*scale+0.5))
	return imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)
}
