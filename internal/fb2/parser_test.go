package fb2

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"
)

const sampleFB2 = `<?xml version="1.0" encoding="UTF-8"?>
<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0" xmlns:l="http://www.w3.org/1999/xlink">
  <description>
    <title-info>
      <genre>sf</genre>
      <author><first-name>Ivan</first-name><last-name>Petrov</last-name></author>
      <book-title>Sample Book</book-title>
      <annotation><p>Short   annotation.</p></annotation>
      <coverpage><image l:href="#cover.jpg"/></coverpage>
      <lang>ru</lang>
    </title-info>
    <document-info><id>abc</id></document-info>
  </description>
  <body>
    <title><p>Book Title</p><p>Subtitle line</p></title>
    <epigraph><p>Body epigraph</p></epigraph>
    <section id="ch1">
      <title><p>Chapter 1</p></title>
      <epigraph><p>Quote</p><text-author>Someone</text-author></epigraph>
      <image l:href="#pic.png"/>
      <p>Hello <emphasis>bold</emphasis>
         world.</p>
      <empty-line/>
      <cite><p>Cited</p><text-author>Author</text-author></cite>
      <poem>
        <title><p>Poem</p></title>
        <stanza><v>Line one</v><v>Line two</v></stanza>
        <date value="2001-02-03">3 Feb 2001</date>
      </poem>
      <subtitle>* * *</subtitle>
      <table><tr><th>A</th><td>B</td></tr><tr><td>C</td><td>D</td></tr></table>
      <section><p>Nested</p></section>
    </section>
  </body>
  <body name="notes">
    <section id="n1"><title><p>1</p></title><p>Note one</p></section>
  </body>
  <binary id="cover.jpg" content-type="image/jpeg">AQI=</binary>
  <binary id="pic.png" content-type="image/png">
    AwQF
  </binary>
</FictionBook>`

func TestParse_Description(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleFB2), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	desc := doc.Description
	if desc.BookTitle != "Sample Book" {
		t.Errorf("BookTitle = %q, want %q", desc.BookTitle, "Sample Book")
	}
	if len(desc.Authors) != 1 || desc.Authors[0].Name() != "Ivan Petrov" {
		t.Errorf("Authors = %+v, want Ivan Petrov", desc.Authors)
	}
	if len(desc.Genres) != 1 || desc.Genres[0] != "sf" {
		t.Errorf("Genres = %v, want [sf]", desc.Genres)
	}
	if desc.Lang != "ru" {
		t.Errorf("Lang = %q, want ru", desc.Lang)
	}
	if desc.Annotation != "Short annotation." {
		t.Errorf("Annotation = %q", desc.Annotation)
	}
	if len(desc.CoverPage) != 1 || desc.CoverPage[0] != "#cover.jpg" {
		t.Errorf("CoverPage = %v, want [#cover.jpg]", desc.CoverPage)
	}
}

func TestParse_Bodies(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleFB2), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(doc.Bodies) != 2 {
		t.Fatalf("len(Bodies) = %d, want 2", len(doc.Bodies))
	}
	if doc.MainBody() != doc.Bodies[0] {
		t.Fatal("MainBody() should return the first body")
	}
	if doc.Bodies[1].Name != "notes" {
		t.Errorf("Bodies[1].Name = %q, want notes", doc.Bodies[1].Name)
	}

	mainBody := doc.Bodies[0]
	if got := mainBody.Title.String(); got != "Book Title\nSubtitle line" {
		t.Errorf("body title = %q", got)
	}
	if len(mainBody.Epigraphs) != 1 {
		t.Errorf("len(Epigraphs) = %d, want 1", len(mainBody.Epigraphs))
	}
	if len(mainBody.Sections) != 1 {
		t.Fatalf("len(Sections) = %d, want 1", len(mainBody.Sections))
	}

	sec := mainBody.Sections[0]
	if sec.ID != "ch1" {
		t.Errorf("section ID = %q, want ch1", sec.ID)
	}
	if sec.Title.String() != "Chapter 1" {
		t.Errorf("section title = %q", sec.Title.String())
	}

	wantKinds := []string{"epigraph", "image", "p", "empty-line", "cite", "poem", "subtitle", "table", "section"}
	if len(sec.Content) != len(wantKinds) {
		t.Fatalf("len(Content) = %d, want %d", len(sec.Content), len(wantKinds))
	}
	for i, item := range sec.Content {
		if item.Element() != wantKinds[i] {
			t.Errorf("Content[%d].Element() = %q, want %q", i, item.Element(), wantKinds[i])
		}
	}

	if p := sec.Content[2].(*Paragraph); p.Text != "Hello bold world." {
		t.Errorf("paragraph text = %q, want %q", p.Text, "Hello bold world.")
	}
	if img := sec.Content[1].(*Image); img.Href != "#pic.png" {
		t.Errorf("image href = %q, want #pic.png", img.Href)
	}

	epi := sec.Content[0].(*Epigraph)
	if len(epi.Content) != 2 || epi.Content[1].Element() != "text-author" {
		t.Errorf("epigraph content = %+v", epi.Content)
	}

	poem := sec.Content[5].(*Poem)
	if poem.Title.String() != "Poem" {
		t.Errorf("poem title = %q", poem.Title.String())
	}
	if len(poem.Content) != 2 {
		t.Fatalf("len(poem.Content) = %d, want 2", len(poem.Content))
	}
	stanza := poem.Content[0].(*Stanza)
	if len(stanza.Lines) != 2 || stanza.Lines[1].(*Paragraph).Text != "Line two" {
		t.Errorf("stanza lines = %+v", stanza.Lines)
	}
	date := poem.Content[1].(*Date)
	if date.String() != "3 Feb 2001" {
		t.Errorf("date = %q", date.String())
	}
	if !date.Value.Equal(time.Date(2001, 2, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date value = %v", date.Value)
	}

	table := sec.Content[7].(*Table)
	if table.String() != "A\tB\nC\tD" {
		t.Errorf("table = %q", table.String())
	}
}

func TestParse_Binaries(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleFB2), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cover, ok := doc.Binary("cover.jpg")
	if !ok {
		t.Fatal("cover.jpg binary not found")
	}
	if !bytes.Equal(cover.Data, []byte{0x01, 0x02}) {
		t.Errorf("cover data = %v", cover.Data)
	}
	if cover.ContentType != "image/jpeg" {
		t.Errorf("cover content type = %q", cover.ContentType)
	}

	pic, ok := doc.Binary("pic.png")
	if !ok {
		t.Fatal("pic.png binary not found")
	}
	if !bytes.Equal(pic.Data, []byte{0x03, 0x04, 0x05}) {
		t.Errorf("pic data = %v", pic.Data)
	}
}

func TestParse_InvalidBase64Warns(t *testing.T) {
	input := `<FictionBook><body><section><p>x</p></section></body><binary id="bad">!!!</binary></FictionBook>`
	doc, err := Parse(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, ok := doc.Binary("bad"); ok {
		t.Fatal("invalid binary should be skipped")
	}
	if len(doc.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want one warning", doc.Warnings)
	}
}

func TestParse_UnknownElementWarns(t *testing.T) {
	input := `<FictionBook><body><section><p>a</p><widget>x</widget><p>b</p></section></body></FictionBook>`
	doc, err := Parse(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	content := doc.Bodies[0].Sections[0].Content
	if len(content) != 2 {
		t.Fatalf("len(Content) = %d, want 2", len(content))
	}
	if len(doc.Warnings) != 1 || !strings.Contains(doc.Warnings[0], "widget") {
		t.Fatalf("Warnings = %v", doc.Warnings)
	}
}

func TestParse_BareTextAndLateTitle(t *testing.T) {
	input := `<FictionBook><body><section>loose text<title><p>late</p></title></section></body></FictionBook>`
	doc, err := Parse(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	sec := doc.Bodies[0].Sections[0]
	if sec.Title != nil {
		t.Fatal("a title after content should not become the section title")
	}
	if len(sec.Content) != 2 {
		t.Fatalf("len(Content) = %d, want 2", len(sec.Content))
	}
	if txt, ok := sec.Content[0].(*Text); !ok || txt.Value != "loose text" {
		t.Errorf("Content[0] = %+v, want Text{loose text}", sec.Content[0])
	}
	if _, ok := sec.Content[1].(*Title); !ok {
		t.Errorf("Content[1] = %T, want *Title", sec.Content[1])
	}
}

func TestParse_HTMLEntities(t *testing.T) {
	input := `<FictionBook><body><section><p>a&nbsp;b&mdash;c</p></section></body></FictionBook>`
	doc, err := Parse(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	p := doc.Bodies[0].Sections[0].Content[0].(*Paragraph)
	if p.Text != "a b—c" {
		t.Errorf("Text = %q", p.Text)
	}
}

func TestParse_NotFictionBook(t *testing.T) {
	_, err := Parse(strings.NewReader(`<html><body/></html>`), ParseOptions{})
	if !errors.Is(err, ErrNotFictionBook) {
		t.Fatalf("Parse() error = %v, want ErrNotFictionBook", err)
	}

	_, err = Parse(strings.NewReader(``), ParseOptions{})
	if !errors.Is(err, ErrNotFictionBook) {
		t.Fatalf("Parse(empty) error = %v, want ErrNotFictionBook", err)
	}
}

func TestParse_Truncated(t *testing.T) {
	_, err := Parse(strings.NewReader(`<FictionBook><body><section><p>abc`), ParseOptions{})
	if err == nil {
		t.Fatal("Parse() should fail on truncated input")
	}
}

func TestParse_DeclaredWindows1251(t *testing.T) {
	body, err := charmap.Windows1251.NewEncoder().String("Привет")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	input := `<?xml version="1.0" encoding="windows-1251"?><FictionBook><body><section><p>` + body + `</p></section></body></FictionBook>`

	doc, err := Parse(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	p := doc.Bodies[0].Sections[0].Content[0].(*Paragraph)
	if p.Text != "Привет" {
		t.Errorf("Text = %q, want Привет", p.Text)
	}
}

func TestParse_UndeclaredLegacyEncoding(t *testing.T) {
	body, err := charmap.Windows1251.NewEncoder().String("Мир")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	input := `<FictionBook><body><section><p>` + body + `</p></section></body></FictionBook>`

	doc, err := Parse(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	p := doc.Bodies[0].Sections[0].Content[0].(*Paragraph)
	if p.Text != "Мир" {
		t.Errorf("Text = %q, want Мир", p.Text)
	}

	koi8, err := charmap.KOI8R.NewEncoder().String("Мир")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	input = `<FictionBook><body><section><p>` + koi8 + `</p></section></body></FictionBook>`
	doc, err = Parse(strings.NewReader(input), ParseOptions{FallbackEncoding: "koi8-r"})
	if err != nil {
		t.Fatalf("Parse(koi8-r) error = %v", err)
	}
	p = doc.Bodies[0].Sections[0].Content[0].(*Paragraph)
	if p.Text != "Мир" {
		t.Errorf("koi8-r Text = %q, want Мир", p.Text)
	}
}

func TestParse_UnknownFallbackEncoding(t *testing.T) {
	input := "<FictionBook><body><section><p>\xff</p></section></body></FictionBook>"
	_, err := Parse(strings.NewReader(input), ParseOptions{FallbackEncoding: "no-such-charset"})
	if !errors.Is(err, ErrUnknownEncoding) {
		t.Fatalf("Parse() error = %v, want ErrUnknownEncoding", err)
	}
}

func TestImageKey(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"#pic.png", "pic.png"},
		{"pic.png", "pic.png"},
		{"", ""},
		{"##x", "#x"},
	}
	for _, tt := range tests {
		if got := ImageKey(tt.href); got != tt.want {
			t.Errorf("ImageKey(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

func TestAuthorName(t *testing.T) {
	if got := (Author{Nickname: "nick"}).Name(); got != "nick" {
		t.Errorf("Name() = %q, want nick", got)
	}
	if got := (Author{FirstName: "A", MiddleName: "B", LastName: "C"}).Name(); got != "A B C" {
		t.Errorf("Name() = %q, want %q", got, "A B C")
	}
}

// encodeBinary is shared with reader tests.
func encodeBinary(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
