// Package listing decodes the raw directory listings returned by a
// transport. Sizes are read from the listing line itself so that callers
// never need a second size query per file.
package listing

import (
	"strconv"
	"strings"
)

// EntryType is the kind of a listing entry, taken from the first character
// of its line.
type EntryType byte

const (
	TypeFile    EntryType = '-'
	TypeDir     EntryType = 'd'
	TypeLink    EntryType = 'l'
	TypeUnknown EntryType = '?'
)

// Entry is one decoded listing line.
type Entry struct {
	Type EntryType
	Name string
	Size float64
	Line string
}

func (e Entry) IsDir() bool  { return e.Type == TypeDir }
func (e Entry) IsFile() bool { return e.Type == TypeFile }

// minFields is the field count of a unix "ls -l" line:
// perms links owner group size month day time|year name.
const minFields = 9

// sizeField is the index of the byte size in a unix "ls -l" line.
const sizeField = 4

// ParseLine decodes one listing line. The name is the last whitespace
// delimited field; names with embedded spaces are therefore not supported.
func ParseLine(line string) (Entry, bool) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) < minFields {
		return Entry{}, false
	}
	e := Entry{Line: line, Name: fields[len(fields)-1]}
	switch EntryType(line[0]) {
	case TypeFile, TypeDir, TypeLink:
		e.Type = EntryType(line[0])
	default:
		e.Type = TypeUnknown
	}
	if e.Name == "." || e.Name == ".." {
		return Entry{}, false
	}
	size, err := strconv.ParseFloat(fields[sizeField], 64)
	if err != nil {
		if e.Type == TypeFile {
			return Entry{}, false
		}
		size = 0
	}
	e.Size = size
	return e, true
}

// Parse decodes every well-formed line of raw, in order. Lines of any
// length are read; an oversized line is skipped like any malformed one.
func Parse(raw string) []Entry {
	var out []Entry
	for _, line := range strings.Split(raw, "\n") {
		if e, ok := ParseLine(line); ok {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the first entry called name whose directory flag matches.
func Lookup(raw, name string, dir bool) (Entry, bool) {
	for _, e := range Parse(raw) {
		if e.Name == name && e.IsDir() == dir {
			return e, true
		}
	}
	return Entry{}, false
}

// Files returns the regular files of raw, optionally restricted to names
// starting with prefix.
func Files(raw, prefix string) []Entry {
	var out []Entry
	for _, e := range Parse(raw) {
		if e.IsFile() && strings.HasPrefix(e.Name, prefix) {
			out = append(out, e)
		}
	}
	return out
}
