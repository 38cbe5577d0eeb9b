package directive

import "fmt"

// ErrorKind classifies a parse failure.
type ErrorKind int

const (
	// MissingHeaderMarker: the input does not start with "#!".
	MissingHeaderMarker ErrorKind = iota + 1
	// UnknownDirective: a "#!" line in the header matches no directive.
	UnknownDirective
	// MalformedArgument: a directive keyword matched but its arguments did not.
	MalformedArgument
	// MissingTerminator: the header is not followed by a blank line.
	MissingTerminator
	// IncompleteConsumption: input was left after the body was captured.
	// Reaching it means the parser itself is broken.
	IncompleteConsumption
)

func (k ErrorKind) String() string {
	switch k {
	case MissingHeaderMarker:
		return "missing_header_marker"
	case UnknownDirective:
		return "unknown_directive"
	case MalformedArgument:
		return "malformed_argument"
	case MissingTerminator:
		return "missing_terminator"
	case IncompleteConsumption:
		return "incomplete_consumption"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// MarshalText encodes the kind as its snake_case name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseError describes why a script header was rejected.
type ParseError struct {
	Kind ErrorKind
	// Line is the 1-based line the failure was detected on. The interpreter
	// line is line 1.
	Line int
	// Text is the offending line without its line ending, if any.
	Text   string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Kind, e.Detail)
}

// Is matches the sentinel errors below by kind, so callers can write
// errors.Is(err, directive.ErrMalformedArgument).
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	if !ok || t.Line != 0 {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrMissingHeaderMarker   = &ParseError{Kind: MissingHeaderMarker, Detail: "input does not start with " + Marker}
	ErrUnknownDirective      = &ParseError{Kind: UnknownDirective, Detail: "unknown directive"}
	ErrMalformedArgument     = &ParseError{Kind: MalformedArgument, Detail: "malformed directive argument"}
	ErrMissingTerminator     = &ParseError{Kind: MissingTerminator, Detail: "header not followed by a blank line"}
	ErrIncompleteConsumption = &ParseError{Kind: IncompleteConsumption, Detail: "input left after body"}
)

func errAt(kind ErrorKind, line int, text, format string, args ...any) *ParseError {
	return &ParseError{
		Kind:   kind,
		Line:   line,
		Text:   text,
		Detail: fmt.Sprintf(format, args...),
	}
}
