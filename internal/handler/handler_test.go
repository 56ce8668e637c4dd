package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ellen/internal/domain"
	"ellen/internal/repository"
	"ellen/internal/repository/sqlite"
	"ellen/internal/retention"
	"ellen/internal/service"
)

type stubReceiver struct {
	err  error
	seen []byte
}

func (s *stubReceiver) Receive(_ context.Context, raw []byte) (*domain.Event, error) {
	s.seen = raw
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Event{ID: "{abc}"}, nil
}

func decodeError(t *testing.T, body *bytes.Buffer) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &resp))
	return resp
}

func TestSaveGorillaStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"invalid payload", fmt.Errorf("%w: id is required", service.ErrInvalidPayload), http.StatusBadRequest, "Gorilla formatted"},
		{"storage missing", fmt.Errorf("%w: disk gone", service.ErrStorageUnavailable), http.StatusServiceUnavailable, "storage missing"},
		{"processing", fmt.Errorf("%w: %w", service.ErrProcessing, repository.ErrDuplicateEvent), http.StatusInternalServerError, service.ErrProcessing.Error()},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWebhookHandler(&stubReceiver{err: tt.err}, 0)
			req := httptest.NewRequest(http.MethodPost, "/savegorilla", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()

			h.SaveGorilla(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec.Body)
			assert.Contains(t, resp.Error, tt.message)
			assert.Equal(t, tt.err.Error(), resp.Details)
		})
	}
}

func TestSaveGorillaReturnsID(t *testing.T) {
	stub := &stubReceiver{}
	h := NewWebhookHandler(stub, 0)
	req := httptest.NewRequest(http.MethodPost, "/savegorilla", strings.NewReader(`{"id":"{abc}"}`))
	rec := httptest.NewRecorder()

	h.SaveGorilla(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"{abc}"}`, rec.Body.String())
	assert.Equal(t, `{"id":"{abc}"}`, string(stub.seen))
}

func TestSaveGorillaBodyLimit(t *testing.T) {
	stub := &stubReceiver{}
	h := NewWebhookHandler(stub, 8)
	req := httptest.NewRequest(http.MethodPost, "/savegorilla", strings.NewReader(`{"id":"0123456789"}`))
	rec := httptest.NewRecorder()

	h.SaveGorilla(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, stub.seen)
}

func TestRouter(t *testing.T) {
	stub := &stubReceiver{}
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := httptest.NewServer(NewRouter(NewWebhookHandler(stub, 0), RouterConfig{Events: events}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	body := new(bytes.Buffer)
	_, err = body.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, HealthMessage, body.String())
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, err = http.Get(srv.URL + "/savegorilla")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouterRateLimit(t *testing.T) {
	srv := httptest.NewServer(NewRouter(NewWebhookHandler(&stubReceiver{}, 0), RouterConfig{RateLimit: 2}))
	defer srv.Close()

	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/savegorilla", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestSaveGorillaEndToEnd(t *testing.T) {
	dir := t.TempDir()
	opts := repository.DefaultOptions()
	opts.OutputDirectory = dir
	opts.DataDirectory = filepath.Join(dir, "data")
	opts.Clock = retention.FixedClock(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))

	store := sqlite.New()
	ing := service.NewIngester(store, service.Settings{Store: opts, PruneInterval: time.Hour}, nil)
	require.NoError(t, ing.Start(context.Background()))
	defer ing.Close()

	srv := httptest.NewServer(NewRouter(NewWebhookHandler(ing, 0), RouterConfig{}))
	defer srv.Close()

	payload := `{"id": "{e-1}", "common": {"time": "2024-06-15T11:00:00.000Z", "type": "FaceRecognized"},
		"fr": {"candidates": [{"id": 7, "displayName": "Gil", "similiarityScore": 0.8}]}}`

	resp, err := http.Post(srv.URL+"/savegorilla", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The same id again is rejected by the store
	resp, err = http.Post(srv.URL+"/savegorilla", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/savegorilla", "application/json", strings.NewReader(`{"id": "x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	events, err := store.Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "{e-1}", events[0].ID)
}
