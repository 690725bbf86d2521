package flatten

// Line is one renderable unit of a flattened document: a HeaderLine,
// a TextLine or an ImageLine.
type Line interface {
	isLine()
}

// HeaderLine is a title segment of a body, section, poem or stanza.
// Level 1 is a body title; every nested container adds one.
type HeaderLine struct {
	Level uint8
	Text  string
}

// TextLine is a run of body text.
type TextLine struct {
	Text string
}

// ImageLine carries the raw payload of an embedded image.
type ImageLine struct {
	Data []byte
}

func (HeaderLine) isLine() {}
func (TextLine) isLine()   {}
func (ImageLine) isLine()  {}
