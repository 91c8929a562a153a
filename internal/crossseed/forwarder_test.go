package crossseed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardDisabledIsNoop(t *testing.T) {
	f := New(Config{Enabled: false}, zerolog.Nop())
	require.NoError(t, f.Forward(context.Background(), "hash", "name"))
}

func TestForwardSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notify", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{Enabled: true, URL: srv.URL, APIKey: "key"}, zerolog.Nop())
	require.NoError(t, f.Forward(context.Background(), "hash", "name"))
}

func TestForwardRetriesOnFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{Enabled: true, URL: srv.URL}, zerolog.Nop())
	require.NoError(t, f.Forward(context.Background(), "hash", "name"))
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestForwardGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Config{Enabled: true, URL: srv.URL}, zerolog.Nop())
	err := f.Forward(context.Background(), "hash", "name")
	assert.Error(t, err)
}
