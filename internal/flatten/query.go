package flatten

import (
	"bytes"
	"fmt"
	"image"
	"slices"
	"strings"
)

func (f *Flattener) snapshot() ([]Line, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lines, f.converted
}

// Lines returns a copy of the last converted sequence, or nil if no
// conversion has completed. ImageLine payloads share the document's binary
// data and must not be modified; use ImageDataAt for an owned copy.
func (f *Flattener) Lines() []Line {
	lines, ok := f.snapshot()
	if !ok {
		return nil
	}
	return slices.Clone(lines)
}

// Text concatenates the text of every TextLine in order, without separators.
func (f *Flattener) Text() string {
	lines, _ := f.snapshot()

	var b strings.Builder
	for _, l := range lines {
		if t, ok := l.(TextLine); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Images decodes every ImageLine in order. It returns ErrNotConverted if
// no conversion has completed, and an empty slice if the last conversion
// produced no images.
func (f *Flattener) Images() ([]image.Image, error) {
	lines, ok := f.snapshot()
	if !ok {
		return nil, ErrNotConverted
	}

	images := make([]image.Image, 0)
	for i, l := range lines {
		il, ok := l.(ImageLine)
		if !ok {
			continue
		}
		img, err := f.decoder.Decode(il.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image line %d: %w", i, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// ImageAt decodes the line at index, counted among all lines. It reports
// false when index is out of range or the line is not an image; the error
// is set only when decoding fails.
func (f *Flattener) ImageAt(index int) (image.Image, bool, error) {
	data, ok := f.ImageDataAt(index)
	if !ok {
		return nil, false, nil
	}
	img, err := f.decoder.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode image line %d: %w", index, err)
	}
	return img, true, nil
}

// ImageDataAt returns a copy of the raw payload of the line at index,
// counted among all lines, if that line is an image.
func (f *Flattener) ImageDataAt(index int) ([]byte, bool) {
	lines, _ := f.snapshot()
	if index < 0 || index >= len(lines) {
		return nil, false
	}
	il, ok := lines[index].(ImageLine)
	if !ok {
		return nil, false
	}
	return bytes.Clone(il.Data), true
}

// CoverImageData returns a copy of the payload of the first image line.
func (f *Flattener) CoverImageData() ([]byte, bool) {
	lines, _ := f.snapshot()
	for _, l := range lines {
		if il, ok := l.(ImageLine); ok {
			return bytes.Clone(il.Data), true
		}
	}
	return nil, false
}
