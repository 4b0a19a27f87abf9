package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/illmade-knight/go-telemetry-relay/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_EndToEnd(t *testing.T) {
	// --- Arrange ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	mr := miniredis.RunT(t)
	subscriber := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = subscriber.Close() })
	sub := subscriber.Subscribe(ctx, "map_updates")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Broker.RedisURL = "redis://" + mr.Addr()
	cfg.Auth.SharedSecret = "s3cret"
	require.NoError(t, cfg.Validate())

	n, err := newNode(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(n.close)
	require.NoError(t, n.server.Start())
	t.Cleanup(func() { _ = n.server.Shutdown(context.Background()) })

	baseURL := fmt.Sprintf("http://127.0.0.1%s", n.server.GetHTTPPort())
	post := func(t *testing.T, body, token string) *http.Response {
		t.Helper()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+cfg.Server.TelemetryPath, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	// --- Act & Assert ---
	t.Run("unauthorized request is not relayed", func(t *testing.T) {
		resp := post(t, `{"user_id":"u1","lat":37.77,"lon":-122.41}`, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid report reaches subscribers", func(t *testing.T) {
		resp := post(t, `{"user_id":"u1","lat":37.77,"lon":-122.41}`, "s3cret")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		select {
		case msg := <-sub.Channel():
			assert.JSONEq(t,
				`{"event":"duty_location_update","data":{"user_id":"u1","lat":37.77,"lon":-122.41,"accuracy_m":null,"unit_label":null}}`,
				msg.Payload)
		case <-ctx.Done():
			t.Fatal("no message published")
		}
	})

	t.Run("readiness reflects broker", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("broker down yields broker error", func(t *testing.T) {
		mr.SetError("LOADING Redis is loading the dataset in memory")

		resp := post(t, `{"user_id":"u1","lat":1,"lon":1}`, "s3cret")
		assert.GreaterOrEqual(t, resp.StatusCode, http.StatusInternalServerError)

		ready, err := http.Get(baseURL + "/readyz")
		require.NoError(t, err)
		_ = ready.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, ready.StatusCode)
	})
}

func TestNewNode_AuthRequired(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Require = true

	_, err := newNode(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"message":"kept"`)
	assert.Contains(t, buf.String(), `"service":"telemetrynode"`)

	_, err = newLogger(config.LoggingConfig{Level: "loud"}, &buf)
	require.Error(t, err)
}

func TestRun_InvalidFlags(t *testing.T) {
	require.Error(t, run([]string{"--no-such-flag"}))
	require.NoError(t, run([]string{"--help"}))
}
