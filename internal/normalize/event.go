package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/ami"
)

// Event is a normalized manager event. Fields holds canonical keys only;
// keys outside the canonical set land in Extra. Orig records the original
// spelling of every aliased key.
type Event struct {
	Type       string
	Fields     map[string]string
	Extra      map[string]string
	Orig       map[string]string
	Raw        string
	ReceivedAt time.Time
}

// FromMessage normalizes a framed manager message.
func FromMessage(m ami.Message, at time.Time) Event {
	ev := Event{
		Fields:     make(map[string]string, len(m.Fields)),
		Extra:      map[string]string{},
		Orig:       map[string]string{},
		Raw:        m.Raw,
		ReceivedAt: at,
	}
	for _, f := range m.Fields {
		key := Key(f.Key)
		if key != f.Key {
			ev.Orig[key] = f.Key
		}
		if IsCanonical(key) {
			// A canonical spelling beats an alias that arrived earlier.
			if _, seen := ev.Fields[key]; seen && key != f.Key {
				continue
			}
			ev.Fields[key] = f.Value
			continue
		}
		ev.Extra[key] = f.Value
	}
	ev.Type = ev.Fields["Event"]
	return ev
}

// Get returns the first non-empty value among keys, looking at canonical
// fields first and then the extra side-table.
func (e Event) Get(keys ...string) string {
	for _, k := range keys {
		if v := e.Fields[k]; v != "" {
			return v
		}
		if v := e.Extra[k]; v != "" {
			return v
		}
	}
	return ""
}

// Int returns the first integer value among keys, or 0.
func (e Event) Int(keys ...string) int {
	for _, k := range keys {
		v := e.Get(k)
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int(f)
		}
	}
	return 0
}

// Bool reports whether key holds a truthy flag ("1", "true", "yes").
func (e Event) Bool(key string) bool {
	switch strings.ToLower(e.Get(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Queue returns the queue identifier.
func (e Event) Queue() string { return e.Get("Queue") }

// Member returns the raw member/interface identifier.
func (e Event) Member() string {
	return e.Get("Member", "MemberName", "Interface", "StateInterface")
}

// CallerNum returns the caller number.
func (e Event) CallerNum() string { return e.Get("CallerIDNum", "ConnectedLineNum") }

// CallerName returns the caller name.
func (e Event) CallerName() string { return e.Get("CallerIDName", "ConnectedLineName") }

// UniqueID returns the call identifier.
func (e Event) UniqueID() string { return e.Get("UniqueID", "LinkedID") }

// Channel returns the channel name.
func (e Event) Channel() string { return e.Get("Channel") }

// MemberExtension extracts the extension of the member the event is about.
// MemberName is often a display name, so the interface fields are tried
// before it.
func (e Event) MemberExtension() (string, bool) {
	for _, k := range []string{"Member", "Interface", "StateInterface", "MemberName"} {
		if ext, ok := Extension(e.Get(k)); ok {
			return ext, true
		}
	}
	return "", false
}
