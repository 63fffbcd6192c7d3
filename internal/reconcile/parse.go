package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoResult marks payloads that explicitly carry nothing.
	ErrNoResult = errors.New("no result")
	// ErrUnparsable is returned when no strategy in a chain accepts a payload.
	ErrUnparsable = errors.New("unparsable claim list")
)

// Strategy turns a raw payload into a list of statements. Strategies are pure.
type Strategy struct {
	Name  string
	Parse func(string) ([]string, error)
}

// Chain tries its strategies in order; the first success wins.
type Chain []Strategy

var (
	JSONList    = Strategy{Name: "json", Parse: parseJSONList}
	LiteralList = Strategy{Name: "literal", Parse: parseLiteralList}
	LineSplit   = Strategy{Name: "lines", Parse: parseLines}

	// DefaultChain is used for model answers.
	DefaultChain = Chain{JSONList, LiteralList, LineSplit}
	// StrictChain only accepts structured lists, for columns written by tools.
	StrictChain = Chain{JSONList, LiteralList}
)

// Parse returns the non-empty statements of payload and the name of the
// strategy that produced them.
func (c Chain) Parse(payload string) ([]string, string, error) {
	s := stripFences(payload)
	if IsNoResult(s) {
		return nil, "", ErrNoResult
	}
	for _, st := range c {
		items, err := st.Parse(s)
		if err != nil {
			continue
		}
		return clean(items), st.Name, nil
	}
	return nil, "", ErrUnparsable
}

// IsNoResult reports whether s is one of the "nothing here" markers.
func IsNoResult(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "[]", "error", "nan", "none", "null":
		return true
	}
	return false
}

func clean(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseJSONList(s string) ([]string, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			switch e := e.(type) {
			case string:
				out = append(out, e)
			case nil:
			default:
				b, err := json.Marshal(e)
				if err != nil {
					return nil, err
				}
				out = append(out, string(b))
			}
		}
		return out, nil
	case string:
		return []string{x}, nil
	default:
		return nil, fmt.Errorf("json %T is not a list", v)
	}
}

// parseLiteralList reads a list of single- or double-quoted string literals,
// e.g. ['a', "b's"], as printed by Python. Bare elements such as True or 3
// are kept as their text.
func parseLiteralList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, errors.New("not a bracketed list")
	}
	body := []rune(s[1 : len(s)-1])

	var out []string
	i := 0
	skipSpace := func() {
		for i < len(body) && (body[i] == ' ' || body[i] == '\t' || body[i] == '\n' || body[i] == '\r') {
			i++
		}
	}
	for {
		skipSpace()
		if i >= len(body) {
			return out, nil
		}
		quote := body[i]
		if quote != '\'' && quote != '"' {
			tok, err := bareToken(body, &i)
			if err != nil {
				return nil, err
			}
			out = append(out, tok)
			if i >= len(body) {
				return out, nil
			}
			i++
			continue
		}
		i++
		var sb strings.Builder
		closed := false
		for i < len(body) {
			r := body[i]
			if r == '\\' && i+1 < len(body) {
				sb.WriteRune(unescape(body[i+1]))
				i += 2
				continue
			}
			i++
			if r == quote {
				closed = true
				break
			}
			sb.WriteRune(r)
		}
		if !closed {
			return nil, errors.New("unterminated string literal")
		}
		out = append(out, sb.String())

		skipSpace()
		if i >= len(body) {
			return out, nil
		}
		if body[i] != ',' {
			return nil, fmt.Errorf("expected comma at offset %d", i)
		}
		i++
	}
}

// bareToken reads an unquoted element up to the next comma, leaving *i on the
// comma or at the end of body.
func bareToken(body []rune, i *int) (string, error) {
	start := *i
	for *i < len(body) && body[*i] != ',' {
		if body[*i] == '\'' || body[*i] == '"' {
			return "", fmt.Errorf("unexpected quote at offset %d", *i)
		}
		*i++
	}
	tok := strings.TrimSpace(string(body[start:*i]))
	if tok == "" {
		return "", fmt.Errorf("empty element at offset %d", start)
	}
	return tok, nil
}

func unescape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return r
	}
}

// parseLines splits free text on line breaks and bullet markers. Bracketed
// text is a broken structured list and is refused.
func parseLines(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		return nil, errors.New("malformed structured list")
	}

	var out []string
	for _, line := range strings.Split(s, "\n") {
		for _, part := range strings.Split(line, "•") {
			if item := stripMarker(part); item != "" {
				out = append(out, item)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no lines")
	}
	return out, nil
}

// stripMarker drops a leading "-", "*" or "1." / "1)" list marker.
func stripMarker(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "- "), strings.HasPrefix(s, "* "):
		return strings.TrimSpace(s[2:])
	}
	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(s) && (s[digits] == '.' || s[digits] == ')') {
		if digits+1 == len(s) || s[digits+1] == ' ' {
			return strings.TrimSpace(s[digits+1:])
		}
	}
	return s
}
