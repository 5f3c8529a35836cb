package json

import (
	stdjson "encoding/json"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// RawMessage is a pre-encoded JSON value embedded verbatim when marshalling.
type RawMessage = stdjson.RawMessage

var (
	// JSON is the instance of jsoniter.API that should be used throughout the codebase
	JSON = jsoniter.ConfigCompatibleWithStandardLibrary

	// Marshal is a shorthand for JSON.Marshal
	Marshal = JSON.Marshal

	// Unmarshal is a shorthand for JSON.Unmarshal
	Unmarshal = JSON.Unmarshal

	// NewDecoder is a shorthand for JSON.NewDecoder
	NewDecoder = JSON.NewDecoder

	// NewEncoder is a shorthand for JSON.NewEncoder
	NewEncoder = JSON.NewEncoder
)

// DecodeObject reads a single JSON object from r. An empty body yields an empty map.
func DecodeObject(r io.Reader) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if r == nil {
		return out, nil
	}
	if err := NewDecoder(r).Decode(&out); err != nil {
		if err == io.EOF {
			return map[string]interface{}{}, nil
		}
		return nil, err
	}
	return out, nil
}

// ToJSONB marshals a map for a Postgres jsonb column. Nil maps become an empty object.
func ToJSONB(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return Marshal(m)
}

// FromJSONB unmarshals a Postgres jsonb column into a map.
func FromJSONB(b []byte) (map[string]interface{}, error) {
	if len(b) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	return m, nil
}
