package converter

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/yuanying/fb2lines/internal/flatten"
)

const (
	defaultJPEGQuality = 85
	minJPEGQuality     = 60
)

// ExportOptions controls how images are written to disk.
type ExportOptions struct {
	MaxWidth    int    // 0 keeps the original width
	JPEGQuality int    // 60..100
	Format      string // keep, jpeg or png
	Decoder     flatten.Decoder
}

// ImageExporter resizes and re-encodes image payloads before writing them.
type ImageExporter struct {
	MaxWidth    int
	JPEGQuality int
	Format      string
	Decoder     flatten.Decoder
}

// ExportedImage holds exported image data and metadata.
// Warning is set (non-empty) when the payload was written as-is because it
// could not be processed. Data is usable in both cases.
type ExportedImage struct {
	Data    []byte
	Width   int
	Height  int
	Format  string
	Warning string
}

// NewImageExporter creates an image exporter with defaults.
func NewImageExporter(opts ExportOptions) *ImageExporter {
	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	if quality < minJPEGQuality {
		quality = minJPEGQuality
	}
	if quality > 100 {
		quality = 100
	}

	format := strings.ToLower(opts.Format)
	if format == "" {
		format = "keep"
	}

	decoder := opts.Decoder
	if decoder == nil {
		decoder = flatten.NewImagingDecoder()
	}

	return &ImageExporter{
		MaxWidth:    opts.MaxWidth,
		JPEGQuality: quality,
		Format:      format,
		Decoder:     decoder,
	}
}

// Prepare resizes and re-encodes input as configured. Payloads that need
// no change, animated GIFs, and payloads that cannot be decoded are
// returned unchanged.
func (e *ImageExporter) Prepare(input []byte) (ExportedImage, error) {
	out := ExportedImage{Data: input}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		out.Warning = fmt.Sprintf("unknown image format: %v", err)
		return out, nil
	}
	out.Width = cfg.Width
	out.Height = cfg.Height
	out.Format = format

	resize := e.MaxWidth > 0 && cfg.Width > e.MaxWidth
	target := e.Format
	if target == "keep" {
		target = format
	}
	if !resize && target == format {
		return out, nil
	}

	if format == "gif" && isAnimatedGIF(input) {
		out.Warning = "animated gif kept as-is"
		return out, nil
	}

	src, err := e.Decoder.Decode(input)
	if err != nil {
		out.Warning = fmt.Sprintf("image decode failed: %v", err)
		return out, nil
	}

	processed := src
	if resize {
		processed = imaging.Resize(src, e.MaxWidth, 0, imaging.Lanczos)
	}
	if target == "jpeg" && hasAlpha(processed) {
		target = "png"
	}

	imgFormat, err := imaging.FormatFromExtension(target)
	if err != nil {
		return out, fmt.Errorf("unsupported output format %q: %w", target, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, processed, imgFormat, imaging.JPEGQuality(e.JPEGQuality)); err != nil {
		return out, fmt.Errorf("%s encode failed: %w", target, err)
	}

	out.Data = buf.Bytes()
	out.Width = processed.Bounds().Dx()
	out.Height = processed.Bounds().Dy()
	out.Format = target
	return out, nil
}

// WriteCover writes the cover to path. When path has no extension, one
// matching the output format is appended. Returns the written path.
func (e *ImageExporter) WriteCover(cover *CoverInfo, path string) (ExportedImage, string, error) {
	out, err := e.Prepare(cover.Data)
	if err != nil {
		return out, "", err
	}
	if filepath.Ext(path) == "" {
		path += "." + extensionFor(out.Format)
	}
	if err := writeFile(path, out.Data); err != nil {
		return out, "", err
	}
	return out, path, nil
}

// WriteImages writes every image line of f into dir as image-NNNN.ext,
// NNNN being the line index. Returns the written paths in line order.
func (e *ImageExporter) WriteImages(f *flatten.Flattener, dir string) ([]string, []ExportedImage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var (
		paths    []string
		exported []ExportedImage
	)
	for i := range f.Lines() {
		data, ok := f.ImageDataAt(i)
		if !ok {
			continue
		}
		out, err := e.Prepare(data)
		if err != nil {
			return paths, exported, fmt.Errorf("image line %d: %w", i, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("image-%04d.%s", i, extensionFor(out.Format)))
		if err := writeFile(path, out.Data); err != nil {
			return paths, exported, err
		}
		paths = append(paths, path)
		exported = append(exported, out)
	}
	return paths, exported, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func extensionFor(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "":
		return "bin"
	default:
		return format
	}
}

func isAnimatedGIF(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}

func hasAlpha(img image.Image) bool {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a < 0xFFFF {
				return true
			}
		}
	}
	return false
}
