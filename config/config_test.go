// patreonviewer/config/config_test.go
package config_test

import (
	"patreonviewer/config"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		// Ensure no env vars are lingering from other tests
		t.Setenv("PVIEWER_PORT", "")
		t.Setenv("PVIEWER_DATA_DIR", "")
		t.Setenv("PVIEWER_TARGET_HEIGHT", "")
		t.Setenv("PVIEWER_SSE_KEEPALIVE", "")
		t.Setenv("PVIEWER_THROTTLE_FREEDISK", "")
		t.Setenv("PVIEWER_AUTH_ENABLE", "")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "3000", cfg.Port)
		assert.Equal(t, "./data", cfg.DataDir)
		assert.Equal(t, "ffmpeg", cfg.FFBin)
		assert.Equal(t, "ffprobe", cfg.FFProbeBin)
		assert.Equal(t, "patreon-dl-bridge", cfg.DLCommand)
		assert.Equal(t, 480, cfg.TargetHeight)
		assert.Equal(t, 500, cfg.MaxLogEntries)
		assert.Equal(t, 15*time.Second, cfg.SSEKeepAlive)
		assert.Equal(t, time.Duration(0), cfg.FFTimeout)
		assert.Equal(t, int64(200*1024*1024), cfg.ThrottleFreeDisk)
		assert.Equal(t, false, cfg.AuthEnable)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("PVIEWER_PORT", "9999")
		t.Setenv("PVIEWER_DATA_DIR", "/srv/archive")
		t.Setenv("PVIEWER_TARGET_HEIGHT", "720")
		t.Setenv("PVIEWER_SSE_KEEPALIVE", "1m30s")
		t.Setenv("PVIEWER_THROTTLE_FREEDISK", "1GB")
		t.Setenv("PVIEWER_AUTH_ENABLE", "true")
		t.Setenv("PVIEWER_AUTH_KEY", "newsecret")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, "/srv/archive", cfg.DataDir)
		assert.Equal(t, 720, cfg.TargetHeight)
		assert.Equal(t, 90*time.Second, cfg.SSEKeepAlive)
		assert.Equal(t, int64(1024*1024*1024), cfg.ThrottleFreeDisk)
		assert.Equal(t, true, cfg.AuthEnable)
		assert.Equal(t, "newsecret", cfg.AuthKey)
	})
}
