package docstore

import "regexp"

// declRE matches the handful of Pike declaration keywords that
// introduce a named symbol. The mediator never parses Pike itself
// (that is the child's job per the Unified Analysis Pipeline); this
// is a cheap lexical sweep used only to seed position-based features
// (document symbols, "jump to first occurrence in this buffer")
// before a real AnalyzeResult from the child is available.
var declRE = regexp.MustCompile(`(?m)^\s*(?:(?:static|private|protected|public|final|optional|variant)\s+)*(?:[A-Za-z_][\w.]*(?:\s*\([^)]*\))?\s+)(?:(?:void|int|string|float|mixed|array|mapping|multiset|object|program|function)\s+)?(\w+)\s*\(`)

// DefaultSweep builds the Symbol index for a document's text using
// declRE, computing each match's 0-based line/column position by
// scanning the text up to that match.
func DefaultSweep(text string) []Symbol {
	matches := declRE.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]Symbol, 0, len(matches))
	for _, m := range matches {
		// m[2:4] is the capture group for the symbol name.
		start := m[2]
		if start < 0 {
			continue
		}
		line, col := utf16LineChar(text, start)
		out = append(out, Symbol{Name: text[m[2]:m[3]], Line: line, Col: col})
	}
	return out
}
