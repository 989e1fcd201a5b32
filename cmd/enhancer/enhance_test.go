package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jingkaihe/enhancer/pkg/provider"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// useTempState points storage and the bridge at a fresh directory.
func useTempState(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	bridgeDir := filepath.Join(dir, "bridge")
	viper.Set("db_path", filepath.Join(dir, "storage.db"))
	viper.Set("bridge.dir", bridgeDir)
	t.Cleanup(func() {
		viper.Set("db_path", "")
		viper.Set("bridge.dir", "")
	})
	return bridgeDir
}

func TestEnhanceCommand_UsesProvidersPushedThroughBridge(t *testing.T) {
	var hits atomic.Int32
	var prompt atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		prompt.Store(gjson.GetBytes(body, "messages.0.content.0.text").String())
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",`+
			`"content":[{"type":"text","text":"Fix the login bug and add a regression test."}],`+
			`"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":9}}`)
	}))
	defer upstream.Close()

	bridgeDir := useTempState(t)
	require.NoError(t, pushToBridge(bridgeDir, []provider.Provider{{
		ID:       "host-1",
		IsActive: true,
		SettingsConfig: &provider.SettingsConfig{Env: &provider.Env{
			AnthropicAPIKey:  "sk-test",
			AnthropicBaseURL: upstream.URL,
		}},
	}}))

	var out bytes.Buffer
	enhanceCmd.SetContext(context.Background())
	enhanceCmd.SetOut(&out)
	defer enhanceCmd.SetOut(nil)

	require.NoError(t, enhanceCmd.RunE(enhanceCmd, []string{"fix", "login", "bug"}))

	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, strings.HasSuffix(prompt.Load().(string), "fix login bug"))
	assert.Equal(t, "Fix the login bug and add a regression test.\n", out.String())
}

func TestEnhanceCommand_WithoutProvidersReportsMissingCredentials(t *testing.T) {
	useTempState(t)

	enhanceCmd.SetContext(context.Background())
	err := enhanceCmd.RunE(enhanceCmd, []string{"hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_credentials")
}
