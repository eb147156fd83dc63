package eventbus_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-naval-battle/internal/eventbus"
	"github.com/koopa0/system-design/14-naval-battle/internal/match"
	"github.com/koopa0/system-design/14-naval-battle/internal/protocol"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		matchID  string
		typ      protocol.Type
		expected string
	}{
		{
			name:     "default prefix",
			matchID:  "6f1c",
			typ:      protocol.TypeShotResult,
			expected: "naval.match.6f1c.shot_result",
		},
		{
			name:     "custom prefix",
			prefix:   "staging.naval",
			matchID:  "abc",
			typ:      protocol.TypeMatchFinished,
			expected: "staging.naval.abc.match_finished",
		},
		{
			name:     "id with separators",
			matchID:  "a.b c*>",
			typ:      protocol.TypeWon,
			expected: "naval.match.a_b_c__.won",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, eventbus.Subject(tt.prefix, tt.matchID, tt.typ))
		})
	}
}

func TestNopPublisher(t *testing.T) {
	var p eventbus.Publisher = eventbus.NopPublisher{}
	assert.NoError(t, p.Publish(match.Event{MatchID: "m"}))
	assert.NotPanics(t, p.Close)
}

// TestNATSPublisher 需要 NATS_URL 指向一台 NATS 伺服器
func TestNATSPublisher(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" || testing.Short() {
		t.Skip("NATS_URL 未設定")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	pub, err := eventbus.Connect(eventbus.Config{URL: url, SubjectPrefix: "test.naval"}, logger)
	require.NoError(t, err)
	defer pub.Close()

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("test.naval.*.match_finished", received)
	require.NoError(t, err)
	defer func() { _ = s.Unsubscribe() }()
	require.NoError(t, sub.Flush())

	err = pub.Publish(match.Event{
		MatchID: "m-42",
		To:      []string{"alice", "bob"},
		Message: protocol.Message{
			Type: protocol.TypeMatchFinished,
			Data: protocol.FinishedPayload{MatchID: "m-42", Winner: "alice", Reason: "victory"},
		},
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "test.naval.m-42.match_finished", msg.Subject)

		var env struct {
			MatchID string        `json:"match_id"`
			Type    protocol.Type `json:"type"`
			To      []string      `json:"to"`
			Data    struct {
				Winner string `json:"winner"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		assert.Equal(t, "m-42", env.MatchID)
		assert.Equal(t, protocol.TypeMatchFinished, env.Type)
		assert.Equal(t, []string{"alice", "bob"}, env.To)
		assert.Equal(t, "alice", env.Data.Winner)
	case <-time.After(5 * time.Second):
		t.Fatal("沒有收到事件")
	}
}
