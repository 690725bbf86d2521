package flatten

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuanying/fb2lines/internal/fb2"
)

var (
	ErrUnrecognizedElement  = errors.New("unrecognized element")
	ErrConversionInProgress = errors.New("conversion already in progress")
	ErrNotConverted         = errors.New("no conversion has completed")
)

// UnrecognizedElementError reports a document node the flattener has no
// policy for. It matches ErrUnrecognizedElement with errors.Is.
type UnrecognizedElementError struct {
	Type    string // Go type of the node
	Element string // element name reported by the node, if any
}

func (e *UnrecognizedElementError) Error() string {
	if e.Element == "" {
		return fmt.Sprintf("unrecognized element of type %s", e.Type)
	}
	return fmt.Sprintf("unrecognized element <%s> of type %s", e.Element, e.Type)
}

func (e *UnrecognizedElementError) Is(target error) bool {
	return target == ErrUnrecognizedElement
}

// Options configures a Flattener.
type Options struct {
	// FlatHeaders gives every header level 1 instead of its nesting depth.
	FlatHeaders bool
	// Decoder turns image payloads into images for Images and ImageAt.
	// Default: NewImagingDecoder().
	Decoder Decoder
	Logger  *slog.Logger
}

// Result is the outcome of an asynchronous conversion.
type Result struct {
	Lines []Line
	Err   error
}

// Flattener converts FB2 document trees into flat line sequences and
// answers queries against the last successful conversion.
//
// Only one conversion may run at a time; a concurrent Convert fails with
// ErrConversionInProgress. A failed or cancelled conversion leaves the
// previous result in place.
type Flattener struct {
	flatHeaders bool
	decoder     Decoder
	logger      *slog.Logger

	running atomic.Bool

	mu        sync.RWMutex
	lines     []Line
	converted bool
}

// New creates a Flattener.
func New(opts Options) *Flattener {
	f := &Flattener{
		flatHeaders: opts.FlatHeaders,
		decoder:     opts.Decoder,
		logger:      opts.Logger,
	}
	if f.decoder == nil {
		f.decoder = NewImagingDecoder()
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Convert flattens doc into lines in depth-first reading order. The walk
// runs in its own goroutine; Convert returns when it completes or ctx is
// done. The returned slice is a copy owned by the caller.
func (f *Flattener) Convert(ctx context.Context, doc *fb2.Document) ([]Line, error) {
	if !f.running.CompareAndSwap(false, true) {
		return nil, ErrConversionInProgress
	}
	defer f.running.Store(false)

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Err: fmt.Errorf("conversion panicked: %v", r)}
			}
		}()
		w := &walker{
			ctx:         ctx,
			doc:         doc,
			flatHeaders: f.flatHeaders,
			logger:      f.logger,
			lines:       make([]Line, 0),
		}
		err := w.run()
		done <- Result{Lines: w.lines, Err: err}
	}()

	var res Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.Err != nil {
		f.logger.Debug("conversion failed", "error", res.Err)
		return nil, res.Err
	}

	f.mu.Lock()
	f.lines = res.Lines
	f.converted = true
	f.mu.Unlock()

	f.logger.Debug("document flattened", "lines", len(res.Lines), "elapsed", time.Since(start))
	return slices.Clone(res.Lines), nil
}

// ConvertAsync starts Convert and delivers its outcome on the returned
// channel, which receives exactly one Result.
func (f *Flattener) ConvertAsync(ctx context.Context, doc *fb2.Document) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		lines, err := f.Convert(ctx, doc)
		out <- Result{Lines: lines, Err: err}
	}()
	return out
}

// walker holds the state of one conversion. Its buffer is published only
// when run returns without error.
type walker struct {
	ctx         context.Context
	doc         *fb2.Document
	flatHeaders bool
	logger      *slog.Logger
	lines       []Line
}

func (w *walker) run() error {
	if w.doc == nil {
		return nil
	}
	for _, body := range w.doc.Bodies {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		if body == nil {
			return &UnrecognizedElementError{Type: fmt.Sprintf("%T", body), Element: "body"}
		}
		w.addTitle(body.Title, 1)
		for _, section := range body.Sections {
			if err := w.item(section, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) items(items []fb2.Item, depth int) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	for _, it := range items {
		if err := w.item(it, depth); err != nil {
			return err
		}
	}
	return nil
}

// item appends the lines of one node. depth is the header level of the
// container holding it.
func (w *walker) item(it fb2.Item, depth int) error {
	if isNil(it) {
		return &UnrecognizedElementError{Type: fmt.Sprintf("%T", it)}
	}
	switch n := it.(type) {
	case *fb2.Cite:
		return w.items(n.Content, depth)
	case *fb2.Poem:
		w.addTitle(n.Title, depth+1)
		return w.items(n.Content, depth+1)
	case *fb2.Section:
		w.addTitle(n.Title, depth+1)
		return w.items(n.Content, depth+1)
	case *fb2.Stanza:
		w.addTitle(n.Title, depth+1)
		return w.items(n.Lines, depth+1)
	case *fb2.Paragraph, *fb2.EmptyLine, *fb2.Title, *fb2.Text, *fb2.Subtitle, *fb2.TextAuthor:
		w.addText(n.(fmt.Stringer).String())
	case *fb2.Image:
		key := fb2.ImageKey(n.Href)
		b, ok := w.doc.Binary(key)
		if !ok {
			w.logger.Debug("image reference without binary", "href", n.Href)
			return nil
		}
		w.lines = append(w.lines, ImageLine{Data: b.Data})
	case *fb2.Date:
		w.addText(n.String())
	case *fb2.Epigraph:
		return w.items(n.Content, depth)
	case fmt.Stringer:
		w.addText(n.String())
	default:
		return &UnrecognizedElementError{Type: fmt.Sprintf("%T", it), Element: it.Element()}
	}
	return nil
}

func (w *walker) addTitle(title *fb2.Title, depth int) {
	if title == nil {
		return
	}
	level := w.level(depth)
	for _, p := range title.Paragraphs {
		if p == nil {
			continue
		}
		w.lines = append(w.lines, HeaderLine{Level: level, Text: p.String()})
	}
}

func (w *walker) addText(text string) {
	w.lines = append(w.lines, TextLine{Text: text})
}

func (w *walker) level(depth int) uint8 {
	if w.flatHeaders {
		return 1
	}
	return uint8(min(depth, math.MaxUint8))
}

// isNil reports whether it is nil or holds a nil pointer.
func isNil(it fb2.Item) bool {
	if it == nil {
		return true
	}
	v := reflect.ValueOf(it)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
