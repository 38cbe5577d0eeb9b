package directive

import "strings"

// Result is a successfully parsed script.
type Result struct {
	Config RunnerConfiguration
	// Directives in file order.
	Directives []Directive
	// Body is everything after the blank terminator line, verbatim.
	Body string
	// BodyLine is the 1-based line number the body starts on.
	BodyLine int
}

// cursor walks src line by line. line is the number of the line that
// starts at pos.
type cursor struct {
	src  string
	pos  int
	line int
}

func (c *cursor) atEOF() bool {
	return c.pos >= len(c.src)
}

// readLine consumes the next line and returns it without its line ending.
// terminated is false when the line runs to end of input.
func (c *cursor) readLine() (text string, terminated bool) {
	rest := c.src[c.pos:]
	i := strings.IndexByte(rest, '\n')
	if i < 0 {
		c.pos = len(c.src)
		return rest, false
	}
	c.pos += i + 1
	c.line++
	return strings.TrimSuffix(rest[:i], "\r"), true
}

// peekLine returns the next line without consuming it.
func (c *cursor) peekLine() (string, bool) {
	saved := *c
	text, terminated := c.readLine()
	*c = saved
	return text, terminated
}

// Parse splits a script into its runner configuration and body.
func Parse(text string) (*Result, error) {
	if !strings.HasPrefix(text, Marker) {
		first, _, _ := strings.Cut(text, "\n")
		first = strings.TrimSuffix(first, "\r")
		return nil, errAt(MissingHeaderMarker, 1, first, "script must start with %q", Marker)
	}

	c := &cursor{src: text, line: 1}
	if _, terminated := c.readLine(); !terminated {
		return nil, errAt(MissingTerminator, 1, "", "no line ending after the interpreter line")
	}

	directives, err := scanDirectives(c)
	if err != nil {
		return nil, err
	}
	if err := expectTerminator(c); err != nil {
		return nil, err
	}

	bodyLine := c.line
	body, err := extractBody(c)
	if err != nil {
		return nil, err
	}

	return &Result{
		Config:     Reduce(directives),
		Directives: directives,
		Body:       body,
		BodyLine:   bodyLine,
	}, nil
}

// ParseBytes is Parse for file contents.
func ParseBytes(data []byte) (*Result, error) {
	return Parse(string(data))
}

// ScanDirectives reads directive lines from the start of text and stops at
// the first blank or non-directive line. rest starts at that line. A line
// that starts with the marker but is not a valid directive is an error.
func ScanDirectives(text string) (directives []Directive, rest string, err error) {
	c := &cursor{src: text, line: 1}
	directives, err = scanDirectives(c)
	if err != nil {
		return nil, "", err
	}
	return directives, text[c.pos:], nil
}

func scanDirectives(c *cursor) ([]Directive, error) {
	directives := []Directive{}
	for !c.atEOF() {
		line, _ := c.peekLine()
		if line == "" || !strings.HasPrefix(line, Marker) {
			break
		}
		d, err := parseLine(line, c.line)
		if err != nil {
			return nil, err
		}
		c.readLine()
		directives = append(directives, d)
	}
	return directives, nil
}

// expectTerminator consumes the blank line that closes the header.
func expectTerminator(c *cursor) error {
	if c.atEOF() {
		return errAt(MissingTerminator, c.line, "", "end of input before the blank line closing the header")
	}
	lineNo := c.line
	if line, _ := c.readLine(); line != "" {
		return errAt(MissingTerminator, lineNo, line, "expected a blank line after the header, got %q", line)
	}
	return nil
}

// extractBody captures the rest of the input and asserts nothing is left.
func extractBody(c *cursor) (string, error) {
	body := c.src[c.pos:]
	c.pos += len(body)
	if !c.atEOF() {
		return "", errAt(IncompleteConsumption, c.line, "", "%d bytes left after body", len(c.src)-c.pos)
	}
	return body, nil
}
