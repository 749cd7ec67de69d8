package ami

import (
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// discovery logs the first sighting of each event type and of each field per
// type, which is how dialect differences between PBX versions show up.
type discovery struct {
	mu     sync.Mutex
	logger zerolog.Logger
	types  map[string]int
	fields map[string]map[string]struct{}
}

func newDiscovery(logger zerolog.Logger) *discovery {
	return &discovery{
		logger: logger,
		types:  map[string]int{},
		fields: map[string]map[string]struct{}{},
	}
}

func (d *discovery) observe(m Message) {
	typ := m.Get("Event")
	if typ == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.types[typ]; !ok {
		d.logger.Info().Str("event", typ).Msg("new event type discovered")
		d.fields[typ] = map[string]struct{}{}
	}
	d.types[typ]++

	seen := d.fields[typ]
	for _, f := range m.Fields {
		if _, ok := seen[f.Key]; ok {
			continue
		}
		seen[f.Key] = struct{}{}
		if isSecretKey(f.Key, nil) {
			continue
		}
		d.logger.Debug().Str("event", typ).Str("field", f.Key).Str("sample", sample(f.Value, 50)).Msg("new field discovered")
	}
}

func (d *discovery) counts() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.types))
	for k, v := range d.types {
		out[k] = v
	}
	return out
}

// sample cuts v to at most n characters.
func sample(v string, n int) string {
	if utf8.RuneCountInString(v) <= n {
		return v
	}
	return string([]rune(v)[:n])
}
