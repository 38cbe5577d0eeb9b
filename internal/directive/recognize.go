package directive

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// recognizer parses one directive kind. literal is the text that must
// follow the marker; args parses whatever follows the literal.
type recognizer struct {
	kind    Kind
	literal string
	usage   string
	args    func(rest string) (Directive, error)
}

// recognizers in dispatch order. Literals must stay prefix-free; init
// enforces it.
var recognizers = []recognizer{
	{
		kind:    KindOption,
		literal: "nix-option ",
		usage:   "#!nix-option <key> <value>",
		args: func(rest string) (Directive, error) {
			key, value, err := tokenPair(rest, scanIdentifier, "identifier")
			if err != nil {
				return nil, err
			}
			return Option{Key: key, Value: value}, nil
		},
	},
	{
		kind:    KindRegistry,
		literal: "registry ",
		usage:   "#!registry <old-ref> <new-ref>",
		args: func(rest string) (Directive, error) {
			oldRef, newRef, err := tokenPair(rest, scanReference, "reference")
			if err != nil {
				return nil, err
			}
			return Registry{OldRef: oldRef, NewRef: newRef}, nil
		},
	},
	{
		kind:    KindPurity,
		literal: "pure",
		usage:   "#!pure",
		args: func(rest string) (Directive, error) {
			if rest != "" {
				return nil, fmt.Errorf("unexpected %q after pure", rest)
			}
			return Purity{Pure: true}, nil
		},
	},
	{
		kind:    KindCommand,
		literal: "command ",
		usage:   "#!command <identifier>",
		args: func(rest string) (Directive, error) {
			name, err := oneToken(rest, scanIdentifier, "identifier")
			if err != nil {
				return nil, err
			}
			return Command{Name: name}, nil
		},
	},
	{
		kind:    KindPackage,
		literal: "package ",
		usage:   "#!package <identifier>",
		args: func(rest string) (Directive, error) {
			name, err := oneToken(rest, scanIdentifier, "identifier")
			if err != nil {
				return nil, err
			}
			return Package{Name: name}, nil
		},
	},
}

func init() {
	if err := checkLiterals(Literals()); err != nil {
		panic(err)
	}
}

// Literals returns the directive literals in dispatch order.
func Literals() []string {
	out := make([]string, len(recognizers))
	for i, r := range recognizers {
		out[i] = r.literal
	}
	return out
}

// checkLiterals fails if one literal is a prefix of another, which would
// let a line match more than one directive.
func checkLiterals(literals []string) error {
	for i, a := range literals {
		if a == "" {
			return errors.New("empty directive literal")
		}
		for j, b := range literals {
			if i != j && strings.HasPrefix(b, a) {
				return fmt.Errorf("directive literal %q is a prefix of %q", a, b)
			}
		}
	}
	return nil
}

// claims reports whether payload names this recognizer's keyword. A claimed
// line is either this directive or malformed; it never falls through to
// another recognizer.
func (r recognizer) claims(payload string) bool {
	word, _, _ := scanIdentifier(payload)
	return word == r.kind.String()
}

func (r recognizer) recognize(payload string) (Directive, error) {
	rest, ok := strings.CutPrefix(payload, r.literal)
	if !ok {
		return nil, fmt.Errorf("missing argument, expected %s", r.usage)
	}
	d, err := r.args(rest)
	if err != nil {
		return nil, fmt.Errorf("%w, expected %s", err, r.usage)
	}
	return d, nil
}

// ParseLine classifies a single header line, given without its line ending.
func ParseLine(line string) (Directive, error) {
	return parseLine(line, 1)
}

func parseLine(line string, lineNo int) (Directive, error) {
	payload, ok := strings.CutPrefix(line, Marker)
	if !ok {
		return nil, errAt(UnknownDirective, lineNo, line, "not a directive line")
	}
	for _, r := range recognizers {
		if !r.claims(payload) {
			continue
		}
		d, err := r.recognize(payload)
		if err != nil {
			return nil, errAt(MalformedArgument, lineNo, line, "%s: %v", r.kind, err)
		}
		return d, nil
	}
	return nil, errAt(UnknownDirective, lineNo, line, "unknown directive %q", line)
}

func oneToken(rest string, scan scanFunc, what string) (string, error) {
	tok, tail, ok := scan(rest)
	if !ok {
		return "", badToken(rest, what)
	}
	if tail != "" {
		return "", fmt.Errorf("unexpected %q after %s %q", tail, what, tok)
	}
	return tok, nil
}

func tokenPair(rest string, scan scanFunc, what string) (string, string, error) {
	first, tail, ok := scan(rest)
	if !ok {
		return "", "", badToken(rest, what)
	}
	if tail == "" {
		return "", "", fmt.Errorf("missing second %s after %q", what, first)
	}
	if tail[0] != ' ' {
		return "", "", fmt.Errorf("unexpected %q after %s %q", tail, what, first)
	}
	after := tail[1:]
	second, tail, ok := scan(after)
	if !ok {
		return "", "", badToken(after, "second "+what)
	}
	if tail != "" {
		return "", "", fmt.Errorf("unexpected %q after %s %q", tail, what, second)
	}
	return first, second, nil
}

func badToken(s, what string) error {
	if s == "" {
		return fmt.Errorf("missing %s", what)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return fmt.Errorf("invalid character %q in %s", r, what)
}
