package converter

import (
	"bytes"
	"image"
	"slices"
	"strings"

	"github.com/yuanying/fb2lines/internal/fb2"
	"github.com/yuanying/fb2lines/internal/flatten"
)

// CoverInfo represents the detected cover image details.
type CoverInfo struct {
	BinaryID        string // empty when the cover was taken from the line sequence
	ContentType     string
	Data            []byte
	DetectionMethod string
}

// DetectCover detects the cover image using prioritized methods:
//  1. the <coverpage> image of the description
//  2. the first image line of the flattened book
//  3. a binary whose id contains "cover" (case-insensitive)
//
// Returns nil if no cover image is found.
func DetectCover(doc *fb2.Document, f *flatten.Flattener) *CoverInfo {
	if info := detectCoverByCoverPage(doc); info != nil {
		return info
	}
	if info := detectCoverByFirstImage(f); info != nil {
		return info
	}
	if info := detectCoverByFilename(doc); info != nil {
		return info
	}
	return nil
}

func detectCoverByCoverPage(doc *fb2.Document) *CoverInfo {
	if doc == nil {
		return nil
	}
	for _, href := range doc.Description.CoverPage {
		b, ok := doc.Binary(fb2.ImageKey(href))
		if !ok {
			continue
		}
		return &CoverInfo{
			BinaryID:        b.ID,
			ContentType:     contentTypeOf(b),
			Data:            b.Data,
			DetectionMethod: "coverpage",
		}
	}
	return nil
}

func detectCoverByFirstImage(f *flatten.Flattener) *CoverInfo {
	if f == nil {
		return nil
	}
	data, ok := f.CoverImageData()
	if !ok {
		return nil
	}
	return &CoverInfo{
		ContentType:     sniffContentType(data),
		Data:            data,
		DetectionMethod: "first-image",
	}
}

func detectCoverByFilename(doc *fb2.Document) *CoverInfo {
	if doc == nil {
		return nil
	}
	ids := make([]string, 0, len(doc.Binaries))
	for id := range doc.Binaries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		b := doc.Binaries[id]
		if !strings.Contains(strings.ToLower(id), "cover") || !isImage(contentTypeOf(b)) {
			continue
		}
		return &CoverInfo{
			BinaryID:        b.ID,
			ContentType:     contentTypeOf(b),
			Data:            b.Data,
			DetectionMethod: "filename-pattern",
		}
	}
	return nil
}

func contentTypeOf(b *fb2.Binary) string {
	if b.ContentType != "" {
		return b.ContentType
	}
	return sniffContentType(b.Data)
}

// sniffContentType reports the media type of a registered image format,
// or application/octet-stream.
func sniffContentType(data []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "application/octet-stream"
	}
	return "image/" + format
}

// isImage checks if a media type indicates a raster image.
// SVG (image/svg+xml) is excluded as it cannot be decoded.
func isImage(mediaType string) bool {
	if mediaType == "image/svg+xml" {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}
