package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/translate", r.URL.Path)

		var req translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Hola", req.Q)
		assert.Equal(t, "es", req.Source)
		assert.Equal(t, "en", req.Target)

		_ = json.NewEncoder(w).Encode(translateResponse{TranslatedText: "Hello"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	got, err := c.Translate(context.Background(), "Hola", "Spanish")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))
}

func TestTranslateIsMemoized(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		_ = json.NewEncoder(w).Encode(translateResponse{TranslatedText: "Hello"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	for i := 0; i < 3; i++ {
		got, err := c.Translate(context.Background(), "Hola", "Spanish")
		require.NoError(t, err)
		assert.Equal(t, "Hello", got)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests), "repeat lookups come from the cache")
}

func TestTranslateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Translate(context.Background(), "Hola", "Spanish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTranslateEmptyTextShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for blank input")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	got, err := c.Translate(context.Background(), "   ", "Spanish")
	require.NoError(t, err)
	assert.Equal(t, "   ", got)
}

func TestTranslateSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sekrit", req.APIKey)
		_ = json.NewEncoder(w).Encode(translateResponse{TranslatedText: "Hello"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit")
	_, err := c.Translate(context.Background(), "Hola", "Spanish")
	require.NoError(t, err)
}

func TestSourceCode(t *testing.T) {
	assert.Equal(t, "es", sourceCode("Spanish"))
	assert.Equal(t, "fa", sourceCode(" persian "))
	assert.Equal(t, "fa", sourceCode("Farsi"))
	assert.Equal(t, "auto", sourceCode("Klingon"))
	assert.Equal(t, "auto", sourceCode(""))
}
