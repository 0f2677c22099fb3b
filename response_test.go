package idapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponseDecodesJSON(t *testing.T) {
	raw := &RawResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"a":1,"b":["x"]}`),
	}

	resp := newResponse(raw)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"a": float64(1), "b": []any{"x"}}, resp.Data)
	assert.Same(t, raw, resp.Raw)
}

func TestNewResponseFallsBackToRawBytes(t *testing.T) {
	raw := &RawResponse{
		StatusCode: http.StatusOK,
		Body:       []byte("not json at all"),
	}

	resp := newResponse(raw)

	// Undecodable bodies are not an error; the raw bytes stand in.
	assert.Equal(t, []byte("not json at all"), resp.Data)
}

func TestNewResponseEmptyBody(t *testing.T) {
	resp := newResponse(&RawResponse{StatusCode: http.StatusNoContent})
	assert.Nil(t, resp.Data)
}

func TestResponseDecode(t *testing.T) {
	resp := newResponse(&RawResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"name":"ada","id":7}`),
	})

	var out struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	}
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, "ada", out.Name)
	assert.Equal(t, 7, out.ID)
}

func TestResponseDecodeSynthetic(t *testing.T) {
	synthetic := &Response{StatusCode: 500, Data: "synthetic"}

	var out map[string]any
	assert.Error(t, synthetic.Decode(&out))
	assert.Nil(t, synthetic.Bytes())
}

func TestResponseBytes(t *testing.T) {
	resp := newResponse(&RawResponse{StatusCode: http.StatusOK, Body: []byte("payload")})
	assert.Equal(t, []byte("payload"), resp.Bytes())
}
