// Package rmonitor implements the result-monitor line grammar and its
// per-command state-change calculators (§4.2 of the timing spec).
package rmonitor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paddockwire/timingcore/internal/timingerr"
)

// ErrMalformedLine is a ParseError (§7): the line did not start with a
// marker, or its field grammar could not be tokenized.
var ErrMalformedLine = fmt.Errorf("rmonitor: malformed line: %w", timingerr.ErrParse)

// SplitLines splits raw on newlines, trims surrounding whitespace from
// each line, and drops empty lines (§4.2 "Input").
func SplitLines(raw string) []string {
	rawLines := strings.Split(raw, "\n")
	lines := make([]string, 0, len(rawLines))
	for _, l := range rawLines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// line is one parsed command: marker (without '$') and its comma-separated
// fields, quoted strings having already had their surrounding quotes
// removed.
type line struct {
	marker string
	fields []string
}

// parseLine tokenizes a single command line into its marker and fields.
// Double-quoted fields preserve interior whitespace and commas verbatim.
func parseLine(raw string) (line, error) {
	if len(raw) == 0 || raw[0] != '$' {
		return line{}, ErrMalformedLine
	}
	rest := raw[1:]

	i := 0
	for i < len(rest) && isMarkerChar(rest[i]) {
		i++
	}
	marker := rest[:i]
	if marker == "" {
		return line{}, ErrMalformedLine
	}

	payload := rest[i:]
	payload = strings.TrimPrefix(payload, ",")

	fields, err := splitFields(payload)
	if err != nil {
		return line{}, err
	}
	return line{marker: marker, fields: fields}, nil
}

func isMarkerChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// splitFields splits a comma-separated payload, honoring double-quoted
// fields: string fields carry no embedded commas or quotes, so a closing
// quote always ends the field.
func splitFields(payload string) ([]string, error) {
	if payload == "" {
		return nil, nil
	}
	var fields []string
	i := 0
	for i <= len(payload) {
		if i < len(payload) && payload[i] == '"' {
			end := strings.IndexByte(payload[i+1:], '"')
			if end < 0 {
				return nil, ErrMalformedLine
			}
			fields = append(fields, payload[i+1:i+1+end])
			i = i + 1 + end + 1
			if i < len(payload) {
				if payload[i] != ',' {
					return nil, ErrMalformedLine
				}
				i++
			}
			continue
		}
		next := strings.IndexByte(payload[i:], ',')
		if next < 0 {
			fields = append(fields, payload[i:])
			break
		}
		fields = append(fields, payload[i:i+next])
		i = i + next + 1
	}
	return fields, nil
}

func field(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func atou32(s string) uint32 {
	n, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	return uint32(n)
}
