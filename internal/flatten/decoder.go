package flatten

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const defaultMaxPixels = 100 * 1000 * 1000 // 100 megapixels

var ErrImageTooLarge = errors.New("image too large to decode")

// Decoder turns a raw image payload into an image.
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(data []byte) (image.Image, error)

func (fn DecoderFunc) Decode(data []byte) (image.Image, error) {
	return fn(data)
}

// ImagingDecoder decodes JPEG, PNG, GIF, BMP and TIFF payloads.
type ImagingDecoder struct {
	AutoOrientation bool // apply EXIF orientation
	MaxPixels       int  // width*height limit checked before decoding; 0 disables
}

// NewImagingDecoder creates a decoder with EXIF orientation enabled and
// a 100 megapixel limit.
func NewImagingDecoder() *ImagingDecoder {
	return &ImagingDecoder{
		AutoOrientation: true,
		MaxPixels:       defaultMaxPixels,
	}
}

func (d *ImagingDecoder) Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}
	pixels := uint64(cfg.Width) * uint64(cfg.Height)
	if d.MaxPixels > 0 && pixels > uint64(d.MaxPixels) {
		return nil, fmt.Errorf("%w: %dx%d (%d pixels)", ErrImageTooLarge, cfg.Width, cfg.Height, pixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(d.AutoOrientation))
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}
	return img, nil
}
