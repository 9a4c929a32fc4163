package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{Success: true, Message: "ok"})
	})
	mux.HandleFunc("GET /api/bots", func(w http.ResponseWriter, _ *http.Request) {
		pid := 42
		_ = json.NewEncoder(w).Encode([]Bot{{Name: "echo", Path: "/srv/echo/main.py", Running: true, PID: &pid}})
	})
	mux.HandleFunc("POST /api/bots/add", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["path"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(Response{Message: "Path required"})
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Success: true, Message: "Bot added", Bot: &Bot{Name: "echo", Path: req["path"]}})
	})
	mux.HandleFunc("POST /api/bots/{idx}/start", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("idx") != "0" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(Response{Message: "Bot not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Success: true, Message: "Bot started with PID 42"})
	})
	mux.HandleFunc("POST /api/bots/{idx}/stop", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{Success: true, Message: "Bot stopped"})
	})
	mux.HandleFunc("DELETE /api/bots/{idx}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not json"))
	})
	mux.HandleFunc("GET /api/logs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") == "lines" {
			_ = json.NewEncoder(w).Encode([]string{"[2024-01-01 00:00:00] System: up"})
			return
		}
		_ = json.NewEncoder(w).Encode([]LogEntry{{Source: "System", Message: "up"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrips(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{BaseURL: srv.URL + "/api/"})
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))

	bots, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	require.NotNil(t, bots[0].PID)
	assert.Equal(t, 42, *bots[0].PID)

	r, err := c.Add(ctx, "/srv/echo/main.py")
	require.NoError(t, err)
	assert.Equal(t, "Bot added", r.Message)
	require.NotNil(t, r.Bot)
	assert.Equal(t, "echo", r.Bot.Name)

	r, err = c.Start(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Bot started with PID 42", r.Message)

	r, err = c.Stop(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Bot stopped", r.Message)

	entries, err := c.Logs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "System", entries[0].Source)

	lines, err := c.LogLines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"[2024-01-01 00:00:00] System: up"}, lines)
}

func TestClientErrors(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{BaseURL: srv.URL + "/api"})
	ctx := context.Background()

	_, err := c.Add(ctx, "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Path required", apiErr.Error())

	_, err = c.Start(ctx, 7)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Bot not found", apiErr.Message)

	_, err = c.Delete(ctx, 0)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "HTTP 404", apiErr.Error())
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := New(Config{BaseURL: url})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.List(context.Background())
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultConfig().BaseURL, c.baseURL)
}
