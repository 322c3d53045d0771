package codec

import gojson "github.com/goccy/go-json"

// GoJSON writes compact manifests with github.com/goccy/go-json. The output
// is plain JSON, so either codec can read manifests written by the other.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

// Name returns "go-json".
func (GoJSON) Name() string { return "go-json" }
