package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sonarfit "github.com/goliatone/go-sonarfit"
	"github.com/goliatone/go-sonarfit/bridge"
	"github.com/goliatone/go-sonarfit/rpc"
	"github.com/goliatone/go-sonarfit/transport/stdio"
)

func noExit(t *testing.T) func(int) {
	return func(code int) {
		t.Fatalf("unexpected exit %d", code)
	}
}

func TestEndpointsJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"endpoints"}, strings.NewReader(""), &out, noExit(t)))

	var manifest struct {
		Channel   string         `json:"channel"`
		Endpoints []rpc.Endpoint `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &manifest))
	assert.Equal(t, bridge.ChannelName, manifest.Channel)
	require.Len(t, manifest.Endpoints, 2)
	assert.Equal(t, bridge.MethodInitialize, manifest.Endpoints[0].Method)
}

func TestEndpointsTypeScriptToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen", "sonarfit.ts")
	require.NoError(t, run(context.Background(),
		[]string{"endpoints", "--format", "ts", "--out", path, "--export", "sonarfitEndpoints"},
		strings.NewReader(""), io.Discard, noExit(t)))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "export const sonarfitEndpoints: RPCEndpointMeta[]")
	assert.Contains(t, string(content), "export interface PresentWorkoutArgs {")
}

func TestRejectsUnknownLogLevel(t *testing.T) {
	err := run(context.Background(), []string{"--log-level", "loud", "endpoints"}, strings.NewReader(""), io.Discard, noExit(t))
	assert.Error(t, err)
}

func TestServeStdioEndToEnd(t *testing.T) {
	script := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(script, []byte("apiKeys: [demo]\noutcome: completed\ndelay: 10ms\n"), 0o600))

	hostR, hostW := io.Pipe()
	pluginR, pluginW := io.Pipe()
	t.Cleanup(func() {
		hostW.Close()
		pluginW.Close()
	})

	errCh := make(chan error, 1)
	go func() {
		err := run(context.Background(), []string{"--script", script, "--log-level", "error", "serve-stdio"}, hostR, pluginW, noExit(t))
		pluginW.Close()
		errCh <- err
	}()

	client, err := stdio.Dial(pluginR, hostW, stdio.WithChannel(bridge.ChannelName))
	require.NoError(t, err)
	assert.Len(t, client.Endpoints(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := client.Invoke(ctx, bridge.MethodInitialize, map[string]any{"apiKey": "demo"})
	require.NoError(t, err)
	assert.Nil(t, env.Error)

	env, err = client.Invoke(ctx, bridge.MethodPresentWorkout, map[string]any{"workoutType": "squat", "sets": 2, "reps": 2})
	require.NoError(t, err)
	require.Nil(t, env.Error)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(sonarfit.StatusCompleted), data["status"])

	require.NoError(t, client.Close())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve-stdio did not exit")
	}
}

func TestGlobalsLoggerBackends(t *testing.T) {
	for _, backend := range []string{"charm", "glog"} {
		g := Globals{LogLevel: "info", LogFormat: "json", LogBackend: backend}
		logger, err := g.logger()
		require.NoError(t, err, backend)
		assert.NotNil(t, logger, backend)
	}
}

func TestRejectsUnknownLogBackend(t *testing.T) {
	err := run(context.Background(), []string{"--log-backend", "zap", "endpoints"}, strings.NewReader(""), io.Discard, noExit(t))
	assert.Error(t, err)
}
