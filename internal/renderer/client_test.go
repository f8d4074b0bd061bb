package renderer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPClientSubmitRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/render", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req RenderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 42, req.VideoID)

		json.NewEncoder(w).Encode(RenderAck{JobRef: "ref-42"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 5*time.Second)
	ack, err := client.SubmitRender(context.Background(), RenderRequest{VideoID: 42, Script: "hello"})
	assert.NoError(t, err)
	assert.Equal(t, "ref-42", ack.JobRef)
}

func TestHTTPClientEnhanceScript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/enhance-script", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"script": "punchier hello"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 5*time.Second)
	script, err := client.EnhanceScript(context.Background(), "hello")
	assert.NoError(t, err)
	assert.Equal(t, "punchier hello", script)
}

func TestHTTPClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 5*time.Second)
	_, err := client.SynthesizeVoice(context.Background(), "hello", "narrator")
	assert.Error(t, err)
}
