package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/emirbensusan/lotastro-sync/internal/store"
	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(tWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type tWriter struct{ t *testing.T }

func (w tWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, srv *httptest.Server, token TokenSource) *Client {
	t.Helper()

	c := NewClient(srv.URL, srv.Client(), token, testLogger(t))
	c.sleepFunc = noSleep

	return c
}

func TestDo_DecodesJSONAndSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "L1", in["id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"L1","status":"ok"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, StaticToken("secret"))

	var out map[string]any
	require.NoError(t, c.Do(t.Context(), http.MethodPost, "/lots", map[string]any{"id": "L1"}, &out))
	assert.Equal(t, "ok", out["status"])
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)

	require.NoError(t, c.Do(t.Context(), http.MethodGet, "/lots", nil, nil))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("X-Request-Id", "req-7")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	c.SetMaxRetries(2)

	err := c.Do(t.Context(), http.MethodGet, "/lots", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "req-7", apiErr.RequestID)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)

	err := c.Do(t.Context(), http.MethodPost, "/lots", map[string]any{}, nil)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)

	var slept []time.Duration
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, c.Do(t.Context(), http.MethodGet, "/x", nil, nil))
	assert.Equal(t, []time.Duration{7 * time.Second}, slept)
}

func TestDo_TokenErrorStopsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, StaticToken(""))
	c.SetMaxRetries(0)

	err := c.Do(t.Context(), http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCalcBackoff_Bounded(t *testing.T) {
	c := NewClient("http://x", nil, nil, nil)

	for attempt := range 10 {
		d := c.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusGone, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusPreconditionFailed, ErrPreconditionFailed},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusBadGateway, ErrServerError},
		{http.StatusTeapot, nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.code), "status %d", tt.code)
	}
}

// fakeTable is a minimal REST collection with version-checked PATCH.
type fakeTable struct {
	records map[string]map[string]any
}

func (f *fakeTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	writeJSON := func(code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == http.MethodGet && id == "":
		items := make([]map[string]any, 0, len(f.records))
		for _, rec := range f.records {
			items = append(items, rec)
		}

		writeJSON(http.StatusOK, map[string]any{"data": items})
	case r.Method == http.MethodGet:
		rec, ok := f.records[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		writeJSON(http.StatusOK, rec)
	case r.Method == http.MethodPost:
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		in["version"] = float64(1)
		f.records[in["id"].(string)] = in
		writeJSON(http.StatusCreated, in)
	case r.Method == http.MethodPatch:
		rec, ok := f.records[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)

		if v, ok := in["version"]; ok && v != rec["version"] {
			w.WriteHeader(http.StatusConflict)
			return
		}

		for k, v := range in {
			rec[k] = v
		}

		rec["version"] = rec["version"].(float64) + 1
		writeJSON(http.StatusOK, rec)
	case r.Method == http.MethodDelete:
		if _, ok := f.records[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		delete(f.records, id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func newFakeBackend(t *testing.T) (*TableRepository, *fakeTable) {
	t.Helper()

	table := &fakeTable{records: map[string]map[string]any{}}

	mux := http.NewServeMux()
	mux.Handle("/api/lots", table)
	mux.Handle("/api/lots/{id}", table)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewTableRepository(newTestClient(t, srv, nil), "lots", "/api/lots/"), table
}

func TestTableRepository_CRUD(t *testing.T) {
	repo, table := newFakeBackend(t)
	ctx := t.Context()

	created, err := repo.Create(ctx, "L1", store.Record{"qty": 5})
	require.NoError(t, err)
	assert.Equal(t, "L1", created["id"])
	assert.InDelta(t, 1, created["version"], 0)

	updated, err := repo.Update(ctx, "L1", store.Record{"qty": 10, "version": 1})
	require.NoError(t, err)
	assert.InDelta(t, 10, updated["qty"], 0)
	assert.InDelta(t, 2, updated["version"], 0)

	got, err := repo.FetchByID(ctx, "L1")
	require.NoError(t, err)
	assert.InDelta(t, 10, got["qty"], 0)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, "L1"))
	assert.Empty(t, table.records)
}

func TestTableRepository_StaleUpdateWrapsErrStale(t *testing.T) {
	repo, _ := newFakeBackend(t)
	ctx := t.Context()

	_, err := repo.Create(ctx, "L1", store.Record{"qty": 5})
	require.NoError(t, err)

	_, err = repo.Update(ctx, "L1", store.Record{"qty": 10, "version": 9})
	assert.ErrorIs(t, err, sync.ErrStale)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTableRepository_MissingWrapsErrRecordNotFound(t *testing.T) {
	repo, _ := newFakeBackend(t)

	err := repo.Delete(t.Context(), "nope")
	assert.ErrorIs(t, err, sync.ErrRecordNotFound)

	_, err = repo.FetchByID(t.Context(), "nope")
	assert.ErrorIs(t, err, sync.ErrRecordNotFound)
}

func TestTableRepository_DrivesExecutor(t *testing.T) {
	repo, table := newFakeBackend(t)
	ctx := t.Context()

	exec := sync.NewRepositoryExecutor(map[string]sync.Repository{"lots": repo}, testLogger(t))

	res, err := exec.Execute(ctx, &store.QueuedMutation{
		Type: store.MutationCreate, Table: "lots", RecordID: "L1", Data: store.Record{"qty": 1},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, table.records, "L1")

	res, err = exec.Execute(ctx, &store.QueuedMutation{
		Type: store.MutationUpdate, Table: "lots", RecordID: "L1", Data: store.Record{"qty": 2, "version": 5},
	})
	require.ErrorIs(t, err, sync.ErrStale)
	assert.False(t, res.Success)
	assert.InDelta(t, 1, res.ServerData["qty"], 0)

	res, err = exec.Execute(ctx, &store.QueuedMutation{
		Type: store.MutationDelete, Table: "lots", RecordID: "gone",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestListItems_Shapes(t *testing.T) {
	items, err := listItems([]any{map[string]any{"id": "a"}})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = listItems(map[string]any{"data": nil})
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = listItems("nope")
	require.Error(t, err)

	_, err = listItems([]any{1})
	require.Error(t, err)
}

func TestTokenCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", "token.json")

	tok, clientID, err := LoadToken(path)
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.Empty(t, clientID)

	want := &oauth2.Token{AccessToken: "abc", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour).Truncate(time.Second)}
	require.NoError(t, SaveToken(path, want, "client-1"))

	got, clientID, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.AccessToken)
	assert.Equal(t, "client-1", clientID)
	assert.True(t, want.Expiry.Equal(got.Expiry))

	require.NoError(t, DeleteToken(path))
	require.NoError(t, DeleteToken(path))
}

func TestNewTokenSource_ClientCredentials(t *testing.T) {
	var issued atomic.Int32

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issued.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	cache := filepath.Join(t.TempDir(), "token.json")
	creds := Credentials{ClientID: "cid", ClientSecret: "sec", TokenURL: tokenSrv.URL, CachePath: cache}

	src, err := NewTokenSource(t.Context(), creds, testLogger(t))
	require.NoError(t, err)

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	tok, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), issued.Load())

	// A fresh source reuses the cached token without hitting the server.
	src2, err := NewTokenSource(t.Context(), creds, testLogger(t))
	require.NoError(t, err)

	tok, err = src2.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), issued.Load())
}

func TestNewTokenSource_Selection(t *testing.T) {
	src, err := NewTokenSource(t.Context(), Credentials{Token: "static"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StaticToken("static"), src)

	src, err = NewTokenSource(t.Context(), Credentials{}, nil)
	require.NoError(t, err)
	assert.Nil(t, src)

	_, err = NewTokenSource(t.Context(), Credentials{ClientID: "x"}, nil)
	require.Error(t, err)
}
