package converter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yuanying/fb2lines/internal/fb2"
	"github.com/yuanying/fb2lines/internal/flatten"
)

// ConvertOptions holds options for the conversion pipeline.
type ConvertOptions struct {
	InputPath        string
	FallbackEncoding string
	FlatHeaders      bool
	Timeout          time.Duration // 0 disables the limit
	MaxPixels        int           // decode limit for images; 0 keeps the decoder default
	Logger           *slog.Logger
}

// Pipeline orchestrates reading an FB2 book and flattening it into lines.
type Pipeline struct {
	Options ConvertOptions

	flattener *flatten.Flattener
	doc       *fb2.Document
}

// NewPipeline creates a new conversion pipeline.
func NewPipeline(opts ConvertOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	decoder := flatten.NewImagingDecoder()
	if opts.MaxPixels > 0 {
		decoder.MaxPixels = opts.MaxPixels
	}

	return &Pipeline{
		Options: opts,
		flattener: flatten.New(flatten.Options{
			FlatHeaders: opts.FlatHeaders,
			Decoder:     decoder,
			Logger:      opts.Logger,
		}),
	}
}

// Convert opens the input book and flattens it. After it succeeds the
// Flattener answers queries about the result.
func (p *Pipeline) Convert(ctx context.Context) ([]flatten.Line, error) {
	logger := p.Options.Logger

	doc, err := p.parseFB2()
	if err != nil {
		return nil, err
	}

	if p.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Options.Timeout)
		defer cancel()
	}

	lines, err := p.flattener.Convert(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten %s: %w", p.Options.InputPath, err)
	}
	p.doc = doc

	stats := Summarize(lines)
	logger.Info("book flattened",
		"path", p.Options.InputPath,
		"title", doc.Description.BookTitle,
		"lines", len(lines),
		"headers", stats.Headers,
		"texts", stats.Texts,
		"images", stats.Images,
	)
	return lines, nil
}

// parseFB2 opens and parses the input, logging non-fatal parser warnings.
func (p *Pipeline) parseFB2() (*fb2.Document, error) {
	doc, err := fb2.Open(p.Options.InputPath, fb2.ParseOptions{
		FallbackEncoding: p.Options.FallbackEncoding,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read FB2: %w", err)
	}
	for _, w := range doc.Warnings {
		p.Options.Logger.Warn("fb2 parse warning", "path", p.Options.InputPath, "detail", w)
	}
	return doc, nil
}

// Flattener returns the flattener holding the last converted book.
func (p *Pipeline) Flattener() *flatten.Flattener {
	return p.flattener
}

// Document returns the last successfully converted document, or nil.
func (p *Pipeline) Document() *fb2.Document {
	return p.doc
}

// Stats counts the lines of a flattened book by kind.
type Stats struct {
	Headers    int
	Texts      int
	Images     int
	ImageBytes int
}

// Summarize counts lines by kind.
func Summarize(lines []flatten.Line) Stats {
	var s Stats
	for _, l := range lines {
		switch v := l.(type) {
		case flatten.HeaderLine:
			s.Headers++
		case flatten.TextLine:
			s.Texts++
		case flatten.ImageLine:
			s.Images++
			s.ImageBytes += len(v.Data)
		}
	}
	return s
}
