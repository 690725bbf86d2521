package fb2

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

const dateLayout = "2006-01-02"

var (
	ErrNotFictionBook      = errors.New("root element is not FictionBook")
	ErrUnknownEncoding     = errors.New("unknown fallback encoding")
	ErrUnexpectedEndOfFile = errors.New("unexpected end of FB2 document")
)

// ParseOptions controls how FB2 input is decoded
type ParseOptions struct {
	// FallbackEncoding is used for input that declares no encoding and is
	// not valid UTF-8. Any WHATWG encoding label is accepted.
	// Default: windows-1251.
	FallbackEncoding string
}

// Parse reads a FictionBook 2 document from r
func Parse(r io.Reader, opts ParseOptions) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read FB2: %w", err)
	}

	data, err = transcodeUndeclared(data, opts.FallbackEncoding)
	if err != nil {
		return nil, err
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity

	p := &parser{
		dec: dec,
		doc: &Document{Binaries: make(map[string]*Binary)},
	}
	if err := p.parseRoot(); err != nil {
		return nil, err
	}
	return p.doc, nil
}

// transcodeUndeclared converts legacy 8-bit input to UTF-8 when the XML
// prolog names no encoding and the bytes are not valid UTF-8.
func transcodeUndeclared(data []byte, fallback string) ([]byte, error) {
	if declaresEncoding(data) || utf8.Valid(data) {
		return data, nil
	}

	var enc encoding.Encoding = charmap.Windows1251
	name := "windows-1251"
	if fallback != "" {
		name = fallback
		e, err := htmlindex.Get(fallback)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, fallback)
		}
		enc = e
	}

	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FB2 as %s: %w", name, err)
	}
	return out, nil
}

func declaresEncoding(data []byte) bool {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(data, []byte("<?xml")) {
		return false
	}
	end := bytes.Index(data, []byte("?>"))
	if end < 0 {
		return false
	}
	return bytes.Contains(data[:end], []byte("encoding"))
}

type parser struct {
	dec *xml.Decoder
	doc *Document
}

func (p *parser) warnf(format string, args ...any) {
	p.doc.Warnings = append(p.doc.Warnings, fmt.Sprintf(format, args...))
}

// token returns the next token, turning a premature io.EOF into an error.
func (p *parser) token() (xml.Token, error) {
	tok, err := p.dec.Token()
	if err == io.EOF {
		return nil, ErrUnexpectedEndOfFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse FB2 XML: %w", err)
	}
	return tok, nil
}

func (p *parser) skip() error {
	if err := p.dec.Skip(); err != nil {
		return fmt.Errorf("failed to parse FB2 XML: %w", err)
	}
	return nil
}

func (p *parser) parseRoot() error {
	for {
		tok, err := p.dec.Token()
		if err == io.EOF {
			return ErrNotFictionBook
		}
		if err != nil {
			return fmt.Errorf("failed to parse FB2 XML: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != "FictionBook" {
				return fmt.Errorf("%w: got <%s>", ErrNotFictionBook, se.Name.Local)
			}
			break
		}
	}

	for {
		tok, err := p.token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			switch t.Name.Local {
			case "description":
				err = p.parseDescription()
			case "body":
				var body *Body
				body, err = p.parseBody(t)
				if body != nil {
					p.doc.Bodies = append(p.doc.Bodies, body)
				}
			case "binary":
				err = p.parseBinary(t)
			default:
				err = p.skip()
			}
			if err != nil {
				return err
			}
		}
	}
}

func (p *parser) parseDescription() error {
	for {
		tok, err := p.token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			if t.Name.Local == "title-info" {
				err = p.parseTitleInfo()
			} else {
				err = p.skip()
			}
			if err != nil {
				return err
			}
		}
	}
}

func (p *parser) parseTitleInfo() error {
	desc := &p.doc.Description
	for {
		tok, err := p.token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			var text string
			switch t.Name.Local {
			case "book-title":
				text, err = p.readText()
				desc.BookTitle = text
			case "genre":
				text, err = p.readText()
				if text != "" {
					desc.Genres = append(desc.Genres, text)
				}
			case "lang":
				text, err = p.readText()
				desc.Lang = text
			case "annotation":
				text, err = p.readText()
				desc.Annotation = text
			case "author":
				var a Author
				a, err = p.parseAuthor()
				desc.Authors = append(desc.Authors, a)
			case "coverpage":
				err = p.parseCoverPage()
			default:
				err = p.skip()
			}
			if err != nil {
				return err
			}
		}
	}
}

func (p *parser) parseAuthor() (Author, error) {
	var a Author
	for {
		tok, err := p.token()
		if err != nil {
			return a, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return a, nil
		case xml.StartElement:
			text, err := p.readText()
			if err != nil {
				return a, err
			}
			switch t.Name.Local {
			case "first-name":
				a.FirstName = text
			case "middle-name":
				a.MiddleName = text
			case "last-name":
				a.LastName = text
			case "nickname":
				a.Nickname = text
			}
		}
	}
}

func (p *parser) parseCoverPage() error {
	for {
		tok, err := p.token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			if t.Name.Local == "image" {
				if href := attr(t, "href"); href != "" {
					p.doc.Description.CoverPage = append(p.doc.Description.CoverPage, href)
				}
			}
			if err := p.skip(); err != nil {
				return err
			}
		}
	}
}

func (p *parser) parseBinary(se xml.StartElement) error {
	id := attr(se, "id")
	text, err := p.readRawText()
	if err != nil {
		return err
	}
	if id == "" {
		p.warnf("binary without id skipped")
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
	if err != nil {
		p.warnf("binary %q: invalid base64: %v", id, err)
		return nil
	}
	p.doc.Binaries[id] = &Binary{
		ID:          id,
		ContentType: attr(se, "content-type"),
		Data:        data,
	}
	return nil
}

func (p *parser) parseBody(se xml.StartElement) (*Body, error) {
	body := &Body{Name: attr(se, "name")}
	for {
		tok, err := p.token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return body, nil
		case xml.StartElement:
			switch t.Name.Local {
			case "title":
				body.Title, err = p.parseTitle()
			case "epigraph":
				var e *Epigraph
				e, err = p.parseEpigraph(t)
				if e != nil {
					body.Epigraphs = append(body.Epigraphs, e)
				}
			case "section":
				var s *Section
				s, err = p.parseSection(t)
				if s != nil {
					body.Sections = append(body.Sections, s)
				}
			default:
				err = p.skip()
			}
			if err != nil {
				return nil, err
			}
		}
	}
}

func (p *parser) parseSection(se xml.StartElement) (*Section, error) {
	title, content, err := p.parseItems("section", true)
	if err != nil {
		return nil, err
	}
	return &Section{ID: attr(se, "id"), Title: title, Content: content}, nil
}

func (p *parser) parsePoem(se xml.StartElement) (*Poem, error) {
	title, content, err := p.parseItems("poem", true)
	if err != nil {
		return nil, err
	}
	return &Poem{ID: attr(se, "id"), Title: title, Content: content}, nil
}

func (p *parser) parseStanza() (*Stanza, error) {
	title, lines, err := p.parseItems("stanza", true)
	if err != nil {
		return nil, err
	}
	return &Stanza{Title: title, Lines: lines}, nil
}

func (p *parser) parseEpigraph(se xml.StartElement) (*Epigraph, error) {
	_, content, err := p.parseItems("epigraph", false)
	if err != nil {
		return nil, err
	}
	return &Epigraph{ID: attr(se, "id"), Content: content}, nil
}

func (p *parser) parseCite(se xml.StartElement) (*Cite, error) {
	_, content, err := p.parseItems(se.Name.Local, false)
	if err != nil {
		return nil, err
	}
	return &Cite{ID: attr(se, "id"), Content: content}, nil
}

// parseItems reads the children of a container up to its end element.
// When titled is set, a <title> preceding any content becomes the
// container title; every other <title> is kept as a content item.
func (p *parser) parseItems(owner string, titled bool) (*Title, []Item, error) {
	var (
		title   *Title
		content []Item
	)
	for {
		tok, err := p.token()
		if err != nil {
			return nil, nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return title, content, nil
		case xml.CharData:
			if text := normalizeSpace(string(t)); text != "" {
				content = append(content, &Text{Value: text})
			}
		case xml.StartElement:
			if t.Name.Local == "title" && titled && title == nil && len(content) == 0 {
				title, err = p.parseTitle()
				if err != nil {
					return nil, nil, err
				}
				continue
			}
			item, err := p.parseItem(owner, t)
			if err != nil {
				return nil, nil, err
			}
			if item != nil {
				content = append(content, item)
			}
		}
	}
}

// parseItem reads one content element. It returns a nil Item for
// elements that are skipped.
func (p *parser) parseItem(owner string, se xml.StartElement) (Item, error) {
	switch se.Name.Local {
	case "p", "v":
		text, err := p.readText()
		if err != nil {
			return nil, err
		}
		return &Paragraph{ID: attr(se, "id"), Text: text}, nil
	case "empty-line":
		return &EmptyLine{}, p.skip()
	case "subtitle":
		text, err := p.readText()
		if err != nil {
			return nil, err
		}
		return &Subtitle{ID: attr(se, "id"), Text: text}, nil
	case "text-author":
		text, err := p.readText()
		if err != nil {
			return nil, err
		}
		return &TextAuthor{Text: text}, nil
	case "image":
		img := &Image{
			ID:    attr(se, "id"),
			Href:  attr(se, "href"),
			Alt:   attr(se, "alt"),
			Title: attr(se, "title"),
		}
		return img, p.skip()
	case "date":
		return p.parseDate(se)
	case "title":
		return p.parseTitle()
	case "section":
		return p.parseSection(se)
	case "poem":
		return p.parsePoem(se)
	case "stanza":
		return p.parseStanza()
	case "cite", "annotation":
		return p.parseCite(se)
	case "epigraph":
		return p.parseEpigraph(se)
	case "table":
		return p.parseTable(se)
	default:
		p.warnf("<%s> inside <%s> skipped", se.Name.Local, owner)
		return nil, p.skip()
	}
}

func (p *parser) parseTitle() (*Title, error) {
	title := &Title{}
	for {
		tok, err := p.token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return title, nil
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				text, err := p.readText()
				if err != nil {
					return nil, err
				}
				title.Paragraphs = append(title.Paragraphs, &Paragraph{ID: attr(t, "id"), Text: text})
			case "empty-line":
				title.Paragraphs = append(title.Paragraphs, &Paragraph{})
				if err := p.skip(); err != nil {
					return nil, err
				}
			default:
				if err := p.skip(); err != nil {
					return nil, err
				}
			}
		}
	}
}

func (p *parser) parseDate(se xml.StartElement) (*Date, error) {
	text, err := p.readText()
	if err != nil {
		return nil, err
	}
	d := &Date{Text: text}
	if v := attr(se, "value"); v != "" {
		if parsed, err := time.Parse(dateLayout, v); err == nil {
			d.Value = parsed
		} else {
			p.warnf("date value %q: %v", v, err)
		}
	}
	return d, nil
}

func (p *parser) parseTable(se xml.StartElement) (*Table, error) {
	table := &Table{ID: attr(se, "id")}
	for {
		tok, err := p.token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return table, nil
		case xml.StartElement:
			if t.Name.Local != "tr" {
				if err := p.skip(); err != nil {
					return nil, err
				}
				continue
			}
			row, err := p.parseRow()
			if err != nil {
				return nil, err
			}
			table.Rows = append(table.Rows, row)
		}
	}
}

func (p *parser) parseRow() ([]string, error) {
	var cells []string
	for {
		tok, err := p.token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return cells, nil
		case xml.StartElement:
			if t.Name.Local != "td" && t.Name.Local != "th" {
				if err := p.skip(); err != nil {
					return nil, err
				}
				continue
			}
			text, err := p.readText()
			if err != nil {
				return nil, err
			}
			cells = append(cells, text)
		}
	}
}

// readText collects the character data of the current element and all
// inline children, with whitespace runs collapsed.
func (p *parser) readText() (string, error) {
	text, err := p.readRawText()
	if err != nil {
		return "", err
	}
	return normalizeSpace(text), nil
}

func (p *parser) readRawText() (string, error) {
	var b strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := p.token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			b.Write(t)
		}
	}
	return b.String(), nil
}

// attr returns the value of the attribute with the given local name,
// ignoring its namespace (l:href and xlink:href both match "href").
func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
