package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxCandidates bounds how many opening brackets ParseJSON will try before giving up.
const maxCandidates = 8

// ParseError describes why raw model output could not be decoded as JSON.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "could not parse JSON from response: " + e.Reason
}

// ParseJSON locates a JSON value inside raw model output and decodes it into a
// generic tree (map[string]any, []any, string, float64, bool, nil).
//
// The output may carry prose before or after the JSON, markdown code fences,
// or trailing commas. Each opening bracket is tried in turn. The first
// candidate that decodes to an object wins; a decoded non-object such as
// "[1]" in leading prose is only returned when no object follows it.
func ParseJSON(raw string) (any, error) {
	text := stripCodeFences(raw)

	var (
		lastErr  error
		fallback any
		haveAny  bool
	)
	tried := 0
	for offset := 0; offset < len(text) && tried < maxCandidates; {
		start := strings.IndexAny(text[offset:], "{[")
		if start == -1 {
			break
		}
		start += offset
		tried++

		candidate, complete := matchBrackets(text, start)
		value, err := decode(candidate)
		if err == nil {
			if _, ok := value.(map[string]any); ok {
				return value, nil
			}
			if !haveAny {
				fallback, haveAny = value, true
			}
			offset = start + len(candidate)
			continue
		}
		if !complete {
			lastErr = fmt.Errorf("%v (response appears truncated)", err)
		} else {
			lastErr = err
		}
		offset = start + 1
	}

	if haveAny {
		return fallback, nil
	}
	if lastErr == nil {
		return nil, &ParseError{Reason: "no JSON object found"}
	}
	return nil, &ParseError{Reason: lastErr.Error()}
}

// ExtractJSON returns the first bracket-balanced JSON candidate in text with
// code fences removed. It returns "" when text has no opening bracket.
func ExtractJSON(text string) string {
	text = stripCodeFences(text)
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return ""
	}
	candidate, _ := matchBrackets(text, start)
	return candidate
}

func decode(candidate string) (any, error) {
	var value any
	err := json.Unmarshal([]byte(candidate), &value)
	if err == nil {
		return value, nil
	}
	repaired := removeTrailingCommas(candidate)
	if repaired != candidate {
		if err2 := json.Unmarshal([]byte(repaired), &value); err2 == nil {
			return value, nil
		}
	}
	return nil, err
}

// stripCodeFences removes markdown fence markers such as ``` and ```json,
// keeping any content that shares a line with them.
func stripCodeFences(text string) string {
	if !strings.Contains(text, "```") {
		return strings.TrimSpace(text)
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			trimmed = strings.TrimLeft(strings.TrimPrefix(trimmed, "```"), fenceLanguageChars)
		}
		lines[i] = strings.TrimSuffix(trimmed, "```")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

const fenceLanguageChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// matchBrackets returns the slice of text from start to its matching close
// bracket. Brackets inside string literals are ignored. When the value never
// closes, the remainder of text is returned with complete=false.
func matchBrackets(text string, start int) (string, bool) {
	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return text[start:], false
}

// removeTrailingCommas deletes commas that directly precede a closing bracket.
func removeTrailingCommas(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			sb.WriteByte(ch)
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			sb.WriteByte(ch)
			continue
		}
		if ch == ',' {
			j := i + 1
			for j < len(s) && strings.ContainsRune(" \t\r\n", rune(s[j])) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}
