package inject

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultTrigger opens a mention suggestion in most chat and editor inputs.
const DefaultTrigger = "@"

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_-./", r)
}

// ExtractMentions returns the tokens that follow trigger in text, in order of
// appearance, without the trigger and without duplicates. A trigger only
// opens a mention at the start of text or after whitespace, so addresses
// such as john@example.com stay plain text.
func ExtractMentions(text, trigger string) []string {
	if trigger == "" {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for pos := 0; ; {
		i := strings.Index(text[pos:], trigger)
		if i < 0 {
			break
		}
		i += pos
		pos = i + len(trigger)
		if !opensMention(text, i) {
			continue
		}
		tok := leadingToken(text[pos:])
		if tok != "" && !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
		pos += len(tok)
	}
	return out
}

func opensMention(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsSpace(r)
}

func leadingToken(s string) string {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if !isTokenRune(r) {
			break
		}
		n += size
	}
	// trailing punctuation belongs to the sentence, not the token
	return strings.TrimRight(s[:n], ".-")
}

type segment struct {
	text   string
	accept bool
}

// segments splits text so that every trigger+mention is delivered as
// "...trigger", then the mention followed by an accept keystroke.
func segments(text, trigger string, mentions []string) []segment {
	if text == "" {
		return nil
	}
	if trigger == "" || len(mentions) == 0 {
		return []segment{{text: text}}
	}
	wanted := make(map[string]bool, len(mentions))
	for _, m := range mentions {
		wanted[strings.TrimPrefix(m, trigger)] = true
	}
	var out []segment
	start, pos := 0, 0
	for {
		i := strings.Index(text[pos:], trigger)
		if i < 0 {
			break
		}
		i += pos
		after := i + len(trigger)
		tok := ""
		if opensMention(text, i) {
			tok = leadingToken(text[after:])
		}
		if tok == "" || !wanted[tok] {
			pos = after
			continue
		}
		out = append(out, segment{text: text[start:after]}, segment{text: tok, accept: true})
		start = after + len(tok)
		pos = start
	}
	if start < len(text) {
		out = append(out, segment{text: text[start:]})
	}
	return out
}
