// Package codec encodes backup manifests.
//
// A manifest records the name of the codec that wrote it, so changing
// Default never breaks restoring older backups.
package codec

import "fmt"

// Codec turns manifest values into bytes and back. A Codec is shared by
// concurrent backups and must not keep per-call state.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName resolves the codec named in a manifest.
func ByName(name string) (Codec, bool) {
	for _, c := range builtin {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Names lists the built-in codec names.
func Names() []string {
	names := make([]string, len(builtin))
	for i, c := range builtin {
		names[i] = c.Name()
	}
	return names
}

var builtin = []Codec{JSON{}, GoJSON{}}

// MustMarshal encodes v with c, or Default when c is nil, and panics on
// failure. Test fixtures only.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("codec: %s: %v", c.Name(), err))
	}
	return b
}
