package carrier

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

var (
	rscPush       = regexp.MustCompile(`self\.__next_f\.push\(\[1,"((?:[^"\\]|\\.)*)"\]\)`)
	trailingComma = regexp.MustCompile(`,\s*([\]}])`)
)

// jsAssignment locates "var name = [" (or let/const, or a bare
// assignment) and returns the array literal that follows.
func jsAssignment(text, name string) (string, error) {
	q := regexp.QuoteMeta(name)
	loc := regexp.MustCompile(`\b(?:var|let|const)\s+` + q + `\s*=`).FindStringIndex(text)
	if loc == nil {
		loc = regexp.MustCompile(`\b` + q + `\s*=`).FindStringIndex(text)
	}
	if loc == nil {
		return "", eris.Wrapf(ErrUnexpectedShape, "no %q assignment in page", name)
	}
	lb := strings.IndexByte(text[loc[1]:], '[')
	if lb < 0 {
		return "", eris.Wrapf(ErrUnexpectedShape, "no array after %q", name)
	}
	return sliceArray(text, loc[1]+lb)
}

// sliceArray returns the bracket-balanced array starting at text[start],
// skipping brackets inside single- or double-quoted strings.
func sliceArray(text string, start int) (string, error) {
	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", eris.Wrap(ErrUnexpectedShape, "unterminated array literal")
}

// decodeJSArray decodes a JavaScript array literal. Plain JSON is tried
// first, then JSON without trailing commas and line separators, then the
// literal with every JS string rewritten as a JSON string, then YAML flow
// syntax.
func decodeJSArray(literal string, out any) error {
	if err := json.Unmarshal([]byte(literal), out); err == nil {
		return nil
	}
	cleaned := trailingComma.ReplaceAllString(literal, "$1")
	cleaned = strings.NewReplacer("\u2028", "", "\u2029", "").Replace(cleaned)
	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}
	if converted, err := jsToJSON(literal); err == nil {
		if err := json.Unmarshal([]byte(converted), out); err == nil {
			return nil
		}
	}
	if err := yaml.Unmarshal([]byte(cleaned), out); err != nil {
		return eris.Wrapf(ErrUnexpectedShape, "array literal is neither JSON nor YAML: %v", err)
	}
	return nil
}

// jsToJSON rewrites the single- and double-quoted strings of a JS literal
// as JSON strings, resolving JS escapes such as \' and \x41. Trailing
// commas before ] and } are dropped; everything else is copied as is.
func jsToJSON(literal string) (string, error) {
	var b strings.Builder
	b.Grow(len(literal))
	for i := 0; i < len(literal); {
		c := literal[i]
		switch c {
		case '"', '\'':
			s, n, err := readJSString(literal[i:])
			if err != nil {
				return "", err
			}
			enc, _ := json.Marshal(s)
			b.Write(enc)
			i += n
			continue
		case ']', '}':
			out := strings.TrimRight(b.String(), " \t\r\n")
			if strings.HasSuffix(out, ",") {
				b.Reset()
				b.WriteString(strings.TrimSuffix(out, ","))
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), nil
}

// readJSString decodes the quoted string at the start of s and returns it
// with the number of bytes consumed, quotes included.
func readJSString(s string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	var pending []uint16
	flush := func() {
		for _, r := range utf16.Decode(pending) {
			b.WriteRune(r)
		}
		pending = pending[:0]
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == quote {
			flush()
			return b.String(), i + 1, nil
		}
		if c != '\\' {
			flush()
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		switch e := s[i]; e {
		case 'n':
			flush()
			b.WriteByte('\n')
		case 't':
			flush()
			b.WriteByte('\t')
		case 'r':
			flush()
			b.WriteByte('\r')
		case 'b':
			flush()
			b.WriteByte('\b')
		case 'f':
			flush()
			b.WriteByte('\f')
		case 'v':
			flush()
			b.WriteByte('\v')
		case '0':
			flush()
			b.WriteByte(0)
		case '\n':
			// line continuation
		case 'x', 'u':
			width := 2
			if e == 'u' {
				width = 4
			}
			if i+width >= len(s) {
				return "", 0, eris.Wrap(ErrUnexpectedShape, "truncated escape in string literal")
			}
			v, err := strconv.ParseUint(s[i+1:i+1+width], 16, 16)
			if err != nil {
				return "", 0, eris.Wrapf(ErrUnexpectedShape, "bad escape %q", s[i-1:i+1+width])
			}
			if e == 'x' {
				flush()
				b.WriteRune(rune(v))
			} else {
				pending = append(pending, uint16(v))
			}
			i += width
		default:
			flush()
			b.WriteByte(e)
		}
	}
	return "", 0, eris.Wrap(ErrUnexpectedShape, "unterminated string literal")
}

// rscChunks returns the decoded string payloads of the Next.js flight
// pushes (self.__next_f.push([1,"..."])) embedded in a page.
func rscChunks(page string) []string {
	var chunks []string
	for _, m := range rscPush.FindAllStringSubmatch(page, -1) {
		var s string
		if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &s); err != nil {
			continue
		}
		chunks = append(chunks, s)
	}
	return chunks
}
