// Package manifest reads the line-oriented action format:
//
//	<type> [payload] key=value key="quoted value" ...
//
// Blank lines and lines starting with # are ignored. The optional payload is
// a bare token before the first attribute and fills the type's payload
// attribute (hash for file actions).
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atomikpanda/pkgdeliver/internal/actions"
)

// ErrSyntax is wrapped by every parse failure.
var ErrSyntax = errors.New("manifest syntax error")

// ParseLine parses a single action line.
func ParseLine(line string) (actions.Action, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrSyntax)
	}
	name := tokens[0].text
	if tokens[0].quoted || tokens[0].key != "" {
		return nil, fmt.Errorf("%w: missing action type", ErrSyntax)
	}

	var attrs actions.Attrs
	rest := tokens[1:]
	if len(rest) > 0 && rest[0].key == "" && !rest[0].quoted {
		key := actions.PayloadAttr(name)
		if key == "" {
			return nil, fmt.Errorf("%w: %s actions take no payload (%q)", ErrSyntax, name, rest[0].text)
		}
		attrs = append(attrs, actions.Attr{Key: key, Value: rest[0].text})
		rest = rest[1:]
	}
	for _, tok := range rest {
		if tok.key == "" {
			return nil, fmt.Errorf("%w: expected key=value, got %q", ErrSyntax, tok.text)
		}
		attrs = append(attrs, actions.Attr{Key: tok.key, Value: tok.text})
	}
	return actions.New(name, attrs)
}

type token struct {
	key    string // set for key=value tokens
	text   string // value, or the whole token for bare words
	quoted bool
}

// tokenize splits line on whitespace. A value may be wrapped in single or
// double quotes to carry whitespace; a backslash escapes the next character
// inside double quotes.
func tokenize(line string) ([]token, error) {
	var out []token
	i := 0
	for {
		for i < len(line) && isSpace(line[i]) {
			i++
		}
		if i >= len(line) {
			return out, nil
		}

		var tok token
		start := i
		for i < len(line) && !isSpace(line[i]) && line[i] != '=' && line[i] != '"' && line[i] != '\'' {
			i++
		}
		if i < len(line) && line[i] == '=' {
			tok.key = line[start:i]
			if tok.key == "" {
				return nil, fmt.Errorf("%w: empty attribute name at column %d", ErrSyntax, start+1)
			}
			i++
			start = i
		} else {
			i = start
		}

		if i < len(line) && (line[i] == '"' || line[i] == '\'') {
			q := line[i]
			var b strings.Builder
			i++
			closed := false
			for i < len(line) {
				c := line[i]
				if c == '\\' && q == '"' && i+1 < len(line) {
					b.WriteByte(line[i+1])
					i += 2
					continue
				}
				if c == q {
					closed = true
					i++
					break
				}
				b.WriteByte(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quote at column %d", ErrSyntax, start+1)
			}
			if i < len(line) && !isSpace(line[i]) {
				return nil, fmt.Errorf("%w: text after closing quote at column %d", ErrSyntax, i+1)
			}
			tok.text, tok.quoted = b.String(), true
		} else {
			for i < len(line) && !isSpace(line[i]) {
				i++
			}
			tok.text = line[start:i]
		}
		out = append(out, tok)
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// Parse reads every action in r. name is used in error positions.
func Parse(name string, r io.Reader) ([]actions.Action, error) {
	var acts []actions.Action
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimSuffix(scanner.Text(), "\r"))
		if line == "" || line[0] == '#' {
			continue
		}
		a, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
		acts = append(acts, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return acts, nil
}

// ParseFile reads the manifest at path.
func ParseFile(path string) ([]actions.Action, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(path, f)
}

// Write renders acts one per line.
func Write(w io.Writer, acts []actions.Action) error {
	for _, a := range acts {
		if _, err := fmt.Fprintln(w, actions.String(a)); err != nil {
			return err
		}
	}
	return nil
}

// FMRI returns the value of the manifest's "set name=pkg.fmri" action, or ""
// when it has none.
func FMRI(acts []actions.Action) string {
	for _, a := range acts {
		if a.Name() == "set" && a.Key() == "pkg.fmri" {
			return a.Attrs().Get("value")
		}
	}
	return ""
}
