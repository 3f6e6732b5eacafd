package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "newsrelay/internal/transport"
)

func TestNewWriterEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Warn("delivery failed", Int("attempt", 2), Err(errors.New("boom")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "delivery failed", rec["message"])
	assert.Equal(t, "test", rec["comp"])
	assert.EqualValues(t, 2, rec["attempt"])
	assert.Equal(t, "boom", rec["err"])
	assert.NotContains(t, rec, "error")
	assert.Contains(t, rec["caller"], "logging_test.go:")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Info("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus", zerolog.InfoLevel))
	assert.True(t, ValidLevel("DEBUG"))
	assert.False(t, ValidLevel("loud"))
}

func TestFormatTelegramJSON(t *testing.T) {
	out := formatTelegramJSON([]byte(`{"level":"error","message":"fetch failed","time":"x","url":"http://feed","comp":"pipeline"}`))
	assert.Equal(t, "[ERROR] fetch failed\n- comp=pipeline\n- url=http://feed", out)

	assert.Equal(t, "plain text", formatTelegramJSON([]byte("  plain text \n")))
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	r.to = append(r.to, to)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestTelegramSinkForwardsWarnings(t *testing.T) {
	rs := &recordingSender{}
	svc, log := New(Config{
		Level:  "debug",
		Format: "json",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     -100,
			ThreadID:   5,
			MinLevel:   "warn",
			RatePerSec: 10,
		},
	}, rs)
	defer svc.Close()

	log.Info("not forwarded")
	log.Warn("forwarded", String("k", "v"))

	require.Eventually(t, func() bool { return rs.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	assert.Contains(t, rs.sent[0], "[WARN] forwarded")
	assert.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 5}, rs.to[0])
}
