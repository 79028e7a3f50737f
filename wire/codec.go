package wire

import "strings"

// Decode splits line into fields on unescaped delimiters. A backslash
// makes the following byte literal, whatever it is. A dangling backslash
// at the end of the line is kept as a literal. Decode never fails and
// always returns at least one field.
func Decode(line string) []string {
	fields := make([]string, 0, strings.Count(line, string(Delimiter))+1)
	var cur strings.Builder
	cur.Grow(len(line))
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch c {
		case Escape:
			if i+1 < len(line) {
				i++
				cur.WriteByte(line[i])
			} else {
				cur.WriteByte(c)
			}
		case Delimiter:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}

// Encode joins fields with the delimiter, escaping every literal
// delimiter, backslash and carriage return inside a field, so a field
// ending in '\r' survives the reader's CRLF handling.
// Decode(Encode(f)) == f for any non-empty f. Fields must not contain
// '\n': it ends the line whether escaped or not.
func Encode(fields ...string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(Delimiter)
		}
		for j := 0; j < len(f); j++ {
			if c := f[j]; c == Delimiter || c == Escape || c == '\r' {
				b.WriteByte(Escape)
			}
			b.WriteByte(f[j])
		}
	}
	return b.String()
}
