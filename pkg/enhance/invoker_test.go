package enhance

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jingkaihe/enhancer/pkg/provider"
	"github.com/jingkaihe/enhancer/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const okResponse = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-5-20250929",
	"content": [{"type": "text", "text": "  Enhanced prompt  "}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 10, "output_tokens": 5}
}`

// fakeUpstream records every request body and replies with a fixed response.
type fakeUpstream struct {
	*httptest.Server
	hits        atomic.Int32
	lastBody    atomic.Value
	lastHeaders atomic.Value
}

func newFakeUpstream(t *testing.T, status int, contentType, body string) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		data, _ := io.ReadAll(r.Body)
		f.lastBody.Store(string(data))
		f.lastHeaders.Store(r.Header.Clone())
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstream) body() string {
	if v, ok := f.lastBody.Load().(string); ok {
		return v
	}
	return ""
}

func (f *fakeUpstream) header(name string) string {
	if v, ok := f.lastHeaders.Load().(http.Header); ok {
		return v.Get(name)
	}
	return ""
}

func activeProvider(id, baseURL string) provider.Provider {
	return provider.Provider{
		ID:       id,
		Name:     id,
		IsActive: true,
		SettingsConfig: &provider.SettingsConfig{
			Env: &provider.Env{
				AnthropicAPIKey:  "sk-test",
				AnthropicBaseURL: baseURL,
			},
		},
	}
}

func newTestInvoker(t *testing.T, cfg *Config, providers ...provider.Provider) *Invoker {
	t.Helper()
	store := storage.NewMemoryStore()
	configs := NewConfigStore(store)
	if cfg != nil {
		configs.Save(context.Background(), *cfg)
	}
	registry := provider.NewRegistry(store)
	registry.SetCache(providers)
	return NewInvoker(configs, registry)
}

func TestEnhance_EmptyInputMakesNoRequest(t *testing.T) {
	upstream := newFakeUpstream(t, http.StatusOK, "application/json", okResponse)
	invoker := newTestInvoker(t, nil, activeProvider("p1", upstream.URL))

	for _, input := range []string{"", "   ", "\n\t"} {
		_, err := invoker.Enhance(context.Background(), input)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	assert.Zero(t, upstream.hits.Load())
}

func TestEnhance_DisabledMakesNoRequest(t *testing.T) {
	upstream := newFakeUpstream(t, http.StatusOK, "application/json", okResponse)
	invoker := newTestInvoker(t, &Config{Enabled: false, Template: DefaultTemplate}, activeProvider("p1", upstream.URL))

	_, err := invoker.Enhance(context.Background(), "make me better")
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	assert.Zero(t, upstream.hits.Load())
}

func TestEnhance_MissingCredentials(t *testing.T) {
	upstream := newFakeUpstream(t, http.StatusOK, "application/json", okResponse)

	t.Run("no active provider", func(t *testing.T) {
		inactive := activeProvider("p1", upstream.URL)
		inactive.IsActive = false
		invoker := newTestInvoker(t, nil, inactive)

		_, err := invoker.Enhance(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("configured provider not found", func(t *testing.T) {
		invoker := newTestInvoker(t, &Config{Enabled: true, Template: DefaultTemplate, ProviderID: "gone"}, activeProvider("p1", upstream.URL))

		_, err := invoker.Enhance(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("provider without key", func(t *testing.T) {
		p := activeProvider("p1", upstream.URL)
		p.SettingsConfig.Env.AnthropicAPIKey = ""
		invoker := newTestInvoker(t, nil, p)

		_, err := invoker.Enhance(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})

	assert.Zero(t, upstream.hits.Load())
}

func TestEnhance_SendsSingleRequest(t *testing.T) {
	upstream := newFakeUpstream(t, http.StatusOK, "application/json", okResponse)
	invoker := newTestInvoker(t, &Config{Enabled: true, Template: "pre ${userInput} post"}, activeProvider("p1", upstream.URL))

	out, err := invoker.Enhance(context.Background(), " hi ")
	require.NoError(t, err)
	assert.Equal(t, "Enhanced prompt", out)
	assert.Equal(t, int32(1), upstream.hits.Load())

	body := upstream.body()
	assert.Equal(t, "pre hi post", gjson.Get(body, "messages.0.content.0.text").String())
	assert.Equal(t, "user", gjson.Get(body, "messages.0.role").String())
	assert.Equal(t, int64(1), gjson.Get(body, "messages.#").Int())
	assert.Equal(t, int64(DefaultMaxTokens), gjson.Get(body, "max_tokens").Int())
	assert.Equal(t, DefaultModel, gjson.Get(body, "model").String())
	assert.Equal(t, "sk-test", upstream.header("X-Api-Key"))
}

func TestEnhance_UsesSelectedProviderAndModel(t *testing.T) {
	active := newFakeUpstream(t, http.StatusOK, "application/json", okResponse)
	selected := newFakeUpstream(t, http.StatusOK, "application/json", okResponse)

	other := activeProvider("p2", selected.URL)
	other.IsActive = false
	other.SettingsConfig.Env.AnthropicAPIKey = ""
	other.SettingsConfig.Env.AnthropicAuthToken = "tok-2"

	invoker := newTestInvoker(t,
		&Config{Enabled: true, Template: DefaultTemplate, ProviderID: "p2", SpecificModel: "claude-opus-4-1"},
		activeProvider("p1", active.URL), other,
	)

	_, err := invoker.Enhance(context.Background(), "hello")
	require.NoError(t, err)
	assert.Zero(t, active.hits.Load())
	assert.Equal(t, int32(1), selected.hits.Load())
	assert.Equal(t, "claude-opus-4-1", gjson.Get(selected.body(), "model").String())
	assert.Equal(t, "tok-2", selected.header("X-Api-Key"))
}

func TestEnhance_CustomPlaceholderFallsBackToDefaultModel(t *testing.T) {
	upstream := newFakeUpstream(t, http.StatusOK, "application/json", okResponse)
	invoker := newTestInvoker(t,
		&Config{Enabled: true, Template: DefaultTemplate, SpecificModel: CustomModelPlaceholder},
		activeProvider("p1", upstream.URL),
	)

	_, err := invoker.Enhance(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, gjson.Get(upstream.body(), "model").String())
}

func TestEnhance_MaxTokensOption(t *testing.T) {
	upstream := newFakeUpstream(t, http.StatusOK, "application/json", okResponse)
	store := storage.NewMemoryStore()
	registry := provider.NewRegistry(store)
	registry.SetCache([]provider.Provider{activeProvider("p1", upstream.URL)})

	invoker := NewInvoker(NewConfigStore(store), registry, WithMaxTokens(512), WithHTTPClient(upstream.Client()))
	_, err := invoker.Enhance(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(512), gjson.Get(upstream.body(), "max_tokens").Int())
}

func TestEnhance_ResponseExtraction(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr error
	}{
		{
			name: "first text block",
			body: `{"type":"message","content":[{"type":"thinking","thinking":"hm","signature":"s"},{"type":"text","text":" one "},{"type":"text","text":"two"}]}`,
			want: "one",
		},
		{
			name: "top-level text",
			body: `{"type":"message","content":[],"text":"  from text  "}`,
			want: "from text",
		},
		{
			name: "top-level completion",
			body: `{"completion":" from completion "}`,
			want: "from completion",
		},
		{
			name:    "nothing usable",
			body:    `{"type":"message","content":[]}`,
			wantErr: ErrInvalidResponseFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newFakeUpstream(t, http.StatusOK, "application/json", tt.body)
			invoker := newTestInvoker(t, nil, activeProvider("p1", upstream.URL))

			out, err := invoker.Enhance(context.Background(), "hello")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestEnhance_ErrorMapping(t *testing.T) {
	jsonError := func(kind, message string) string {
		return `{"type":"error","error":{"type":"` + kind + `","message":"` + message + `"}}`
	}

	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        error
	}{
		{
			name:        "unauthorized",
			status:      http.StatusUnauthorized,
			contentType: "application/json",
			body:        jsonError("authentication_error", "invalid x-api-key"),
			want:        ErrAuthentication,
		},
		{
			name:        "rate limited",
			status:      http.StatusTooManyRequests,
			contentType: "application/json",
			body:        jsonError("rate_limit_error", "slow down"),
			want:        ErrRateLimit,
		},
		{
			name:        "forbidden",
			status:      http.StatusForbidden,
			contentType: "application/json",
			body:        jsonError("permission_error", "no"),
			want:        ErrForbidden,
		},
		{
			name:        "html page with success status",
			status:      http.StatusOK,
			contentType: "text/html; charset=utf-8",
			body:        "<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>",
			want:        ErrProxyInterference,
		},
		{
			name:        "html page beats unauthorized",
			status:      http.StatusUnauthorized,
			contentType: "text/html",
			body:        "<!DOCTYPE html><html><body>Sign in</body></html>",
			want:        ErrProxyInterference,
		},
		{
			name:        "mislabelled html page",
			status:      http.StatusForbidden,
			contentType: "text/plain",
			body:        "<html><body>blocked</body></html>",
			want:        ErrProxyInterference,
		},
		{
			name:        "markup in error message",
			status:      http.StatusBadRequest,
			contentType: "application/json",
			body:        jsonError("invalid_request_error", "<b>bad gateway</b>"),
			want:        ErrProxyInterference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newFakeUpstream(t, tt.status, tt.contentType, tt.body)
			invoker := newTestInvoker(t, nil, activeProvider("p1", upstream.URL))

			_, err := invoker.Enhance(context.Background(), "hello")
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), upstream.hits.Load())
		})
	}
}

func TestEnhance_UpstreamErrorIsNotRetried(t *testing.T) {
	upstream := newFakeUpstream(t, http.StatusInternalServerError, "application/json",
		`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`)
	invoker := newTestInvoker(t, nil, activeProvider("p1", upstream.URL))

	_, err := invoker.Enhance(context.Background(), "hello")
	require.Error(t, err)

	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusInternalServerError, upstreamErr.StatusCode)
	assert.Contains(t, upstreamErr.Message, "overloaded")
	assert.Equal(t, "upstream", Kind(err))
	assert.Equal(t, int32(1), upstream.hits.Load())
}

func TestResolveCredentials(t *testing.T) {
	p := activeProvider("p1", "https://proxy.example.com")
	p.SettingsConfig.Env.AnthropicAuthToken = "tok"
	invoker := newTestInvoker(t, nil, p)

	creds := invoker.ResolveCredentials(context.Background(), Config{SpecificModel: "m"})
	assert.Equal(t, Credentials{APIKey: "tok", BaseURL: "https://proxy.example.com", Model: "m"}, creds)

	creds = invoker.ResolveCredentials(context.Background(), Config{ProviderID: "missing"})
	assert.Equal(t, Credentials{}, creds)
}
