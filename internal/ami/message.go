// Package ami is a client for the PBX manager interface: a line-oriented
// TCP protocol where every request, response and event is a block of
// "Key: Value" lines terminated by one blank line.
package ami

import (
	"strings"
)

// Field is one "Key: Value" line.
type Field struct {
	Key   string
	Value string
}

// Message is one framed block in wire order.
type Message struct {
	Fields []Field
	Raw    string
}

// Get returns the value of key, matching exactly first and then
// case-insensitively.
func (m Message) Get(key string) string {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	for _, f := range m.Fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

// Has reports whether key is present.
func (m Message) Has(key string) bool {
	for _, f := range m.Fields {
		if strings.EqualFold(f.Key, key) {
			return true
		}
	}
	return false
}

// IsEvent reports whether the block is an asynchronous event.
func (m Message) IsEvent() bool { return m.Has("Event") }

// IsSuccess reports whether a response block carries Response: Success.
func (m Message) IsSuccess() bool {
	return strings.EqualFold(m.Get("Response"), "success")
}

// Encode renders fields as a CRLF-terminated block.
func Encode(fields []Field) []byte {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// defaultRedact lists keys whose values never reach a log.
var defaultRedact = []string{"Secret", "Password", "Key"}

// Redact returns a copy of fields with secret values masked.
func Redact(fields []Field, extra []string) []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	for i, f := range out {
		if isSecretKey(f.Key, extra) {
			out[i].Value = "***"
		}
	}
	return out
}

func isSecretKey(key string, extra []string) bool {
	for _, k := range defaultRedact {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	for _, k := range extra {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
