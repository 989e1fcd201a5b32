package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jingkaihe/enhancer/pkg/enhance"
	"github.com/jingkaihe/enhancer/pkg/provider"
	"github.com/jingkaihe/enhancer/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEnhancer struct {
	enhanceFunc func(ctx context.Context, input string) (string, error)
	calls       []string
}

func (m *mockEnhancer) Enhance(ctx context.Context, input string) (string, error) {
	m.calls = append(m.calls, input)
	if m.enhanceFunc != nil {
		return m.enhanceFunc(ctx, input)
	}
	return "enhanced: " + input, nil
}

type recordingPublisher struct {
	pushed [][]provider.Provider
}

func (p *recordingPublisher) Publish(providers []provider.Provider) {
	p.pushed = append(p.pushed, providers)
}

type testServer struct {
	*Server
	store     *storage.MemoryStore
	configs   *enhance.ConfigStore
	registry  *provider.Registry
	enhancer  *mockEnhancer
	publisher *recordingPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		store:     storage.NewMemoryStore(),
		enhancer:  &mockEnhancer{},
		publisher: &recordingPublisher{},
	}
	ts.configs = enhance.NewConfigStore(ts.store)
	ts.registry = provider.NewRegistry(ts.store)

	s, err := NewServer(&Config{Host: "localhost", Port: 8090}, ts.configs, ts.registry, ts.enhancer, WithPublisher(ts.publisher))
	require.NoError(t, err)
	ts.Server = s
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "valid", config: Config{Host: "127.0.0.1", Port: 8090}},
		{name: "empty host", config: Config{Port: 8090}, wantErr: "host cannot be empty"},
		{name: "port too low", config: Config{Host: "localhost"}, wantErr: "port must be between 1 and 65535, got 0"},
		{name: "port too high", config: Config{Host: "localhost", Port: 70000}, wantErr: "got 70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.Equal(t, "[::1]:80", (&Config{Host: "::1", Port: 80}).Address())
}

func TestNewServer_RejectsInvalidConfig(t *testing.T) {
	store := storage.NewMemoryStore()
	_, err := NewServer(&Config{}, enhance.NewConfigStore(store), provider.NewRegistry(store), &mockEnhancer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server configuration")
}

func TestConfigEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enhance.DefaultConfig(), decode[enhance.Config](t, rec))

	rec = ts.do(t, http.MethodPut, "/api/config", `{"enabled":false,"template":"Do: ${userInput}","providerId":"p1","specificModel":"custom-placeholder"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decode[enhance.Config](t, rec)
	assert.Equal(t, enhance.Config{Enabled: false, Template: "Do: ${userInput}", ProviderID: "p1"}, saved)
	assert.Equal(t, saved, ts.configs.Load(context.Background()))

	rec = ts.do(t, http.MethodPut, "/api/config", `{"enabled":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid enhance config")

	rec = ts.do(t, http.MethodDelete, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enhance.DefaultConfig(), decode[enhance.Config](t, rec))
}

func TestConfigSchemaEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/config/schema", "")
	require.Equal(t, http.StatusOK, rec.Code)

	schema := decode[map[string]any](t, rec)
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "template")
	assert.Contains(t, props, "specificModel")
}

func TestProviderEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	rec := ts.do(t, http.MethodGet, "/api/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	push := `[
		{"id":"p1","name":"Primary","isActive":true,"settingsConfig":{"env":{"ANTHROPIC_MODEL":"a","OPENAI_MODEL":"a","GEMINI_MODEL":"b"}}},
		{"id":"p2","name":"Bare"}
	]`
	rec = ts.do(t, http.MethodPost, "/api/providers", push)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":2,"active":1}`, rec.Body.String())

	assert.Len(t, ts.registry.Cached(), 2)
	assert.Len(t, ts.registry.Persisted(ctx), 2)
	require.Len(t, ts.publisher.pushed, 1)
	assert.Equal(t, "p1", ts.publisher.pushed[0][0].ID)

	rec = ts.do(t, http.MethodGet, "/api/providers", "")
	listed := decode[[]provider.Provider](t, rec)
	require.Len(t, listed, 2)
	assert.Equal(t, "Primary", listed[0].Name)

	rec = ts.do(t, http.MethodGet, "/api/providers/p1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"providerId":"p1","models":["a","b"]}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/providers/p2/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"providerId":"p2","models":[]}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/providers/nope/models", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPushProviders_RejectsInvalidList(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/providers", `[{"id":"a"},{"id":"a"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate")
	assert.Empty(t, ts.registry.Cached())
	assert.Empty(t, ts.publisher.pushed)
}

func TestEnhanceEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/enhance", `{"input":"fix bug"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enhanced":"enhanced: fix bug"}`, rec.Body.String())
	assert.Equal(t, []string{"fix bug"}, ts.enhancer.calls)

	rec = ts.do(t, http.MethodPost, "/api/enhance", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnhanceEndpoint_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{enhance.ErrEmptyInput, http.StatusBadRequest, "empty_input"},
		{enhance.ErrFeatureDisabled, http.StatusConflict, "feature_disabled"},
		{enhance.ErrMissingCredentials, http.StatusPreconditionFailed, "missing_credentials"},
		{enhance.ErrRateLimit, http.StatusTooManyRequests, "rate_limit"},
		{enhance.ErrAuthentication, http.StatusBadGateway, "authentication"},
		{errors.Wrap(enhance.ErrProxyInterference, "HTTP 200"), http.StatusBadGateway, "proxy_interference"},
		{&enhance.UpstreamError{StatusCode: 500, Message: "overloaded"}, http.StatusBadGateway, "upstream"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			ts := newTestServer(t)
			ts.enhancer.enhanceFunc = func(context.Context, string) (string, error) {
				return "", tt.err
			}

			rec := ts.do(t, http.MethodPost, "/api/enhance", `{"input":"x"}`)
			assert.Equal(t, tt.status, rec.Code)
			resp := decode[map[string]string](t, rec)
			assert.Equal(t, tt.kind, resp["kind"])
			assert.Equal(t, tt.err.Error(), resp["error"])
		})
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodOptions, "/api/enhance", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = ts.do(t, http.MethodGet, "/api/config", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
