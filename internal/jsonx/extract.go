// Package jsonx locates and parses JSON values embedded in free-form model
// output. The extraction logic is backend-agnostic: every adapter funnels
// raw text through Extract rather than carrying its own repair heuristics.
package jsonx

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoJSON indicates no extractable JSON value was found after all repair
// attempts.
var ErrNoJSON = errors.New("jsonx: no JSON found in text")

var (
	fencedJSON    = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedAny     = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	controlChars  = regexp.MustCompile("[\\x00-\\x08\\x0b\\x0c\\x0e-\\x1f\\x7f]")
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// Extract returns the first JSON value found in text. It prefers fenced code
// blocks, then scans for the first `{` or `[` and takes the snippet up to its
// depth-matched closer. On a parse failure it strips control characters and
// trailing commas before closers, then retries once.
func Extract(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)

	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	} else if m := fencedAny.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	// Fast path: the whole remaining text is the value.
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		if json.Valid([]byte(text)) {
			return json.RawMessage(text), nil
		}
	}

	start := valueStart(text)
	if start < 0 {
		return nil, ErrNoJSON
	}

	opener := text[start]
	closer := byte('}')
	if opener == '[' {
		closer = ']'
	}

	snippet := text[start:]
	if end := matchingCloser(text, start, opener, closer); end >= 0 {
		snippet = text[start : end+1]
	}

	if json.Valid([]byte(snippet)) {
		return json.RawMessage(snippet), nil
	}

	repaired := repair(snippet)
	if json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired), nil
	}

	return nil, ErrNoJSON
}

// ExtractInto extracts a JSON value from text and unmarshals it into v.
func ExtractInto(text string, v any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return eris.Wrap(err, "jsonx: unmarshal extracted value")
	}
	return nil
}

// valueStart returns the index of the first `{` or `[`, or -1.
func valueStart(text string) int {
	obj := strings.IndexByte(text, '{')
	arr := strings.IndexByte(text, '[')
	switch {
	case obj < 0:
		return arr
	case arr < 0:
		return obj
	case arr < obj:
		return arr
	default:
		return obj
	}
}

// matchingCloser finds the closer balancing the opener at start by depth
// counting, so nested braces never truncate the snippet. Returns -1 when the
// value is unterminated.
func matchingCloser(s string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// repair applies the bounded set of repairs: strip control characters and
// remove trailing commas before closers.
func repair(s string) string {
	s = controlChars.ReplaceAllString(s, "")
	return trailingComma.ReplaceAllString(s, "$1")
}
