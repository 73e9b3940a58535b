package codec

import (
	"bytes"
	stdjson "encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type    string             `json:"type"`
	Payload stdjson.RawMessage `json:"payload,omitempty"`
}

func TestJSONRawPayload(t *testing.T) {
	var c Codec = JSON{}

	data, err := c.Marshal(frame{Type: "like", Payload: stdjson.RawMessage(`{"postId":"p1"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"like","payload":{"postId":"p1"}}`, string(data))

	var got frame
	require.NoError(t, c.Unmarshal(data, &got))
	assert.Equal(t, "like", got.Type)
	assert.JSONEq(t, `{"postId":"p1"}`, string(got.Payload))
}

func TestJSONStream(t *testing.T) {
	var buf bytes.Buffer
	c := JSON{}

	require.NoError(t, c.NewEncoder(&buf).Encode(frame{Type: "a"}))
	require.NoError(t, c.NewEncoder(&buf).Encode(frame{Type: "b"}))

	dec := c.NewDecoder(&buf)
	var first, second frame
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "a", first.Type)
	assert.Equal(t, "b", second.Type)
}

func TestJSONInvalid(t *testing.T) {
	var got frame
	assert.Error(t, JSON{}.Unmarshal([]byte("not json"), &got))
}
