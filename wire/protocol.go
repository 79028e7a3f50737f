// Package wire implements the line protocol spoken between clients and
// the record store: one request per newline-terminated line, one
// response line per request, fields separated by '|' with '\' as the
// escape character.
package wire

// Field framing bytes.
const (
	Delimiter byte = '|'
	Escape    byte = '\\'
	Newline   byte = '\n'
)

// Response status tokens. Every response line starts with one of them.
const (
	StatusOK  = "OK"
	StatusErr = "ERR"
)

// In-band sentinels returned inside OK responses when a lookup misses.
const (
	SentinelNoSession = "-1"
	SentinelNotFound  = "NOT_FOUND"
	SentinelEmpty     = "EMPTY"
)

// MaxLineSize bounds a single request or response line, excluding the
// newline.
const MaxLineSize = 1 << 20
