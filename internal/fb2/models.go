package fb2

import (
	"strings"
	"time"
)

// Document represents a parsed FictionBook 2 file
type Document struct {
	Description Description
	Bodies      []*Body
	Binaries    map[string]*Binary // binary id -> payload
	Warnings    []string           // non-fatal problems found while parsing
}

// MainBody returns the first body of the document, or nil if there is none
func (d *Document) MainBody() *Body {
	if d == nil || len(d.Bodies) == 0 {
		return nil
	}
	return d.Bodies[0]
}

// Binary looks up an embedded binary by its id.
func (d *Document) Binary(id string) (*Binary, bool) {
	if d == nil || d.Binaries == nil {
		return nil, false
	}
	b, ok := d.Binaries[id]
	return b, ok
}

// Description holds the title-info part of the FB2 description
type Description struct {
	BookTitle  string
	Authors    []Author
	Genres     []string
	Lang       string
	Annotation string
	CoverPage  []string // image hrefs from <coverpage>
}

// Author represents a book author
type Author struct {
	FirstName  string
	MiddleName string
	LastName   string
	Nickname   string
}

// Name returns the display name of the author.
func (a Author) Name() string {
	name := strings.Join(strings.Fields(strings.Join([]string{a.FirstName, a.MiddleName, a.LastName}, " ")), " ")
	if name == "" {
		return a.Nickname
	}
	return name
}

// Binary is an embedded payload, usually an image
type Binary struct {
	ID          string
	ContentType string
	Data        []byte
}

// Item is a node of the document tree. Element returns the FB2 element
// name the node was read from.
type Item interface {
	Element() string
}

// Body is a top-level <body> element. Name is empty for the main body
// and usually "notes" for footnotes.
type Body struct {
	Name      string
	Title     *Title
	Epigraphs []*Epigraph
	Sections  []*Section
}

// Section is a <section> with an optional title and ordered content.
type Section struct {
	ID      string
	Title   *Title
	Content []Item
}

// Poem is a <poem>. Content holds epigraphs, subtitles, stanzas,
// text authors and a date.
type Poem struct {
	ID      string
	Title   *Title
	Content []Item
}

// Stanza is a <stanza> of a poem. Lines are usually *Paragraph values read from <v>.
type Stanza struct {
	Title *Title
	Lines []Item
}

// Cite is a <cite> block
type Cite struct {
	ID      string
	Content []Item
}

// Epigraph is an <epigraph> block
type Epigraph struct {
	ID      string
	Content []Item
}

// Paragraph is a <p> or <v> with inline markup flattened into Text.
type Paragraph struct {
	ID   string
	Text string
}

// EmptyLine is an <empty-line/>.
type EmptyLine struct{}

// Title is a <title>; every paragraph is one title segment.
type Title struct {
	Paragraphs []*Paragraph
}

// Text is bare character data found between structural elements.
type Text struct {
	Value string
}

// Image is an <image> reference into the document binaries.
type Image struct {
	ID    string
	Href  string
	Alt   string
	Title string
}

// Date is a <date>. Text is the human-readable form; Value is parsed
// from the value attribute when present.
type Date struct {
	Value time.Time
	Text  string
}

// Subtitle is a <subtitle> inside a section, poem or stanza.
type Subtitle struct {
	ID   string
	Text string
}

// TextAuthor is a <text-author> of a cite, epigraph or poem.
type TextAuthor struct {
	Text string
}

// Table is a <table>; cells are kept as plain text.
type Table struct {
	ID   string
	Rows [][]string
}

func (*Section) Element() string    { return "section" }
func (*Poem) Element() string       { return "poem" }
func (*Stanza) Element() string     { return "stanza" }
func (*Cite) Element() string       { return "cite" }
func (*Epigraph) Element() string   { return "epigraph" }
func (*Paragraph) Element() string  { return "p" }
func (*EmptyLine) Element() string  { return "empty-line" }
func (*Title) Element() string      { return "title" }
func (*Text) Element() string       { return "#text" }
func (*Image) Element() string      { return "image" }
func (*Date) Element() string       { return "date" }
func (*Subtitle) Element() string   { return "subtitle" }
func (*TextAuthor) Element() string { return "text-author" }
func (*Table) Element() string      { return "table" }

func (p *Paragraph) String() string  { return p.Text }
func (*EmptyLine) String() string    { return "" }
func (t *Text) String() string       { return t.Value }
func (s *Subtitle) String() string   { return s.Text }
func (a *TextAuthor) String() string { return a.Text }

// String joins the title segments with newlines.
func (t *Title) String() string {
	if t == nil {
		return ""
	}
	parts := make([]string, 0, len(t.Paragraphs))
	for _, p := range t.Paragraphs {
		if p != nil {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// String returns the date text, falling back to the ISO form of Value.
func (d *Date) String() string {
	if d.Text != "" {
		return d.Text
	}
	if d.Value.IsZero() {
		return ""
	}
	return d.Value.Format(dateLayout)
}

// String renders the table with tab separated cells, one row per line.
func (t *Table) String() string {
	rows := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		rows = append(rows, strings.Join(r, "\t"))
	}
	return strings.Join(rows, "\n")
}

// ImageKey returns the binary id referenced by href, without the leading '#'.
func ImageKey(href string) string {
	return strings.TrimPrefix(href, "#")
}
