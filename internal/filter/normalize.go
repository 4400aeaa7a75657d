// Package filter repairs, parses, and evaluates the SQL-like filter
// expressions Battlefield 2 clients attach to server list requests. The
// game client emits filters with missing whitespace, unescaped quotes and
// unjoined sub-expressions; Normalize rewrites them into a canonical form
// the evaluator accepts.
package filter

import (
	"strings"

	"github.com/bf2statistics/battlespy/internal/registry"
)

// wordKind classifies one token of a raw filter during normalisation.
type wordKind int

const (
	wordNone wordKind = iota
	wordString
	wordOpenBracket
	wordCloseBracket
	wordComparison
	wordLogical
	wordOther
)

// Normalize rewrites a raw client filter into a canonical boolean predicate
// over the filterable schema. The empty string means "match all". Normalize
// never fails; input it cannot repair yields a predicate the parser rejects,
// which the query path treats as match-all.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	// The evaluator treats '[' as a glob bracket; escape literal brackets
	// before anything else.
	f := strings.ReplaceAll(raw, "[", "[[]")

	var e emitter
	var cur strings.Builder
	kind := wordNone

	flush := func() {
		if kind != wordNone && cur.Len() > 0 {
			if kind == wordOther {
				e.emitOther(cur.String())
			} else {
				e.emit(kind, cur.String())
			}
		}
		cur.Reset()
		kind = wordNone
	}

	for i := 0; i < len(f); {
		c := f[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			flush()
			i++
		case c == '(':
			flush()
			e.emit(wordOpenBracket, "(")
			i++
		case c == ')':
			flush()
			e.emit(wordCloseBracket, ")")
			i++
		case c == '\'' || c == '"':
			flush()
			body, next := scanLiteral(f, i)
			e.emit(wordString, string(c)+body+string(c))
			i = next
		case c == '=' || c == '!' || c == '<' || c == '>':
			if kind != wordComparison {
				flush()
				kind = wordComparison
			}
			cur.WriteByte(c)
			i++
		default:
			if kind != wordOther {
				flush()
				kind = wordOther
			}
			cur.WriteByte(c)
			i++
		}
	}
	flush()

	return e.out.String()
}

// scanLiteral consumes a quoted literal starting at f[start] and returns its
// body (quotes excluded) plus the index after the closing quote. The client
// does not escape quotes inside literals, so the closing quote has to be
// guessed: each further occurrence of the quote character is a candidate,
// accepted when the text after it looks like the filter continues there.
func scanLiteral(f string, start int) (string, int) {
	q := f[start]
	rest := f[start+1:]

	var candidates []int
	for i := 0; i < len(rest); i++ {
		if rest[i] == q {
			candidates = append(candidates, i)
		}
	}

	switch len(candidates) {
	case 0:
		// Unterminated literal extends to the end of the input.
		return rest, len(f)
	case 1:
		return rest[:candidates[0]], start + 1 + candidates[0] + 1
	}

	wildcard := len(rest) > 0 && rest[0] == '%'
	for k, idx := range candidates {
		if k == len(candidates)-1 {
			break // the last candidate always closes
		}
		// A literal that opened with a SQL wildcard is expected to close
		// with one too.
		if wildcard && (idx == 0 || rest[idx-1] != '%') {
			continue
		}
		if continuesFilter(rest[idx+1:]) {
			return rest[:idx], start + 1 + idx + 1
		}
	}

	last := candidates[len(candidates)-1]
	return rest[:last], start + 1 + last + 1
}

// continuesFilter reports whether text after a candidate closing quote reads
// like the remainder of a filter expression.
func continuesFilter(after string) bool {
	after = strings.TrimLeft(after, " \t")
	if after == "" {
		return false
	}
	if after[0] == ')' || after[0] == '(' {
		return true
	}
	lower := strings.ToLower(after)
	if strings.HasPrefix(lower, "and ") || strings.HasPrefix(lower, "or ") {
		return true
	}
	for _, name := range registry.FilterableNames() {
		if strings.HasPrefix(lower, name) {
			return true
		}
	}
	return false
}

// emitter assembles the canonical output, inserting separators and the
// auto-join "and" between words the client forgot to connect.
type emitter struct {
	out  strings.Builder
	prev wordKind
}

func (e *emitter) emit(kind wordKind, word string) {
	if kind == wordOther {
		switch strings.ToLower(word) {
		case "and", "or":
			kind = wordLogical
		case "like", "not":
			kind = wordComparison
		}
	}

	if e.prev != wordNone && e.prev != wordOpenBracket && kind != wordCloseBracket {
		e.out.WriteByte(' ')
		if kind == wordOther && e.prev != wordLogical && e.prev != wordComparison {
			e.out.WriteString("and ")
		} else if kind == wordOpenBracket && (e.prev == wordOther || e.prev == wordString) {
			e.out.WriteString("and ")
		}
	}

	if kind == wordString && len(word) >= 2 {
		q := word[0]
		body := word[1 : len(word)-1]
		// Leftover quote characters inside the literal are the unescaped-
		// quote bug; neutralise them as single-character wildcards.
		body = strings.ReplaceAll(body, string(q), "_")
		e.out.WriteByte(q)
		e.out.WriteString(body)
		e.out.WriteByte(q)
	} else {
		e.out.WriteString(word)
	}
	e.prev = kind
}

// emitOther emits a word the scanner classified as Other, splitting off any
// embedded filterable property name so mashed-together text like
// "0gametype" becomes two words.
func (e *emitter) emitOther(word string) {
	lower := strings.ToLower(word)

	at := -1
	var prop string
	for _, name := range registry.FilterableNames() { // longest first
		idx := strings.Index(lower, name)
		if idx >= 0 && (at < 0 || idx < at) {
			at, prop = idx, name
		}
	}

	if at < 0 || (at == 0 && len(prop) == len(word)) {
		e.emit(wordOther, word)
		return
	}

	if at > 0 {
		e.emit(wordOther, word[:at])
	}
	e.emit(wordOther, word[at:at+len(prop)])
	if rest := word[at+len(prop):]; rest != "" {
		e.emitOther(rest)
	}
}
