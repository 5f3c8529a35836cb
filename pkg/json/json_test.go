package json

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Raw   string   `json:"raw"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func TestMarshalUnmarshal(t *testing.T) {
	original := testPayload{
		Raw:   "hello world",
		Title: "First post",
		Tags:  []string{"intro", "meta"},
	}

	data, err := Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"raw":"hello world"`)
	assert.Contains(t, string(data), `"tags":["intro","meta"]`)

	var decoded testPayload
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)

	assert.Error(t, Unmarshal([]byte(`{"invalid`), &decoded))
}

func TestEncoderDecoder(t *testing.T) {
	original := testPayload{Raw: "body", Tags: []string{"a"}}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(original))

	var decoded testPayload
	require.NoError(t, NewDecoder(bytes.NewReader(buf.Bytes())).Decode(&decoded))
	assert.Equal(t, original, decoded)
}

func TestDecodeObject(t *testing.T) {
	obj, err := DecodeObject(strings.NewReader(`{"version": 3, "reviewable": {"payload": {"raw": "x"}}}`))
	require.NoError(t, err)
	assert.Equal(t, float64(3), obj["version"])
	assert.Contains(t, obj, "reviewable")

	empty, err := DecodeObject(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeObject(strings.NewReader(`[1,2]`))
	assert.Error(t, err)
}

func TestJSONB(t *testing.T) {
	b, err := ToJSONB(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	m, err := FromJSONB(nil)
	require.NoError(t, err)
	assert.Empty(t, m)

	b, err = ToJSONB(map[string]interface{}{"username": "sam"})
	require.NoError(t, err)
	m, err = FromJSONB(b)
	require.NoError(t, err)
	assert.Equal(t, "sam", m["username"])

	m, err = FromJSONB([]byte("null"))
	require.NoError(t, err)
	assert.NotNil(t, m)
}
