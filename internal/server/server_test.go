package server_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-naval-battle/internal/board"
	"github.com/koopa0/system-design/14-naval-battle/internal/lobby"
	"github.com/koopa0/system-design/14-naval-battle/internal/match"
	"github.com/koopa0/system-design/14-naval-battle/internal/protocol"
	"github.com/koopa0/system-design/14-naval-battle/internal/registry"
	"github.com/koopa0/system-design/14-naval-battle/internal/server"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingPublisher 記錄所有發布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []match.Event
}

func (p *recordingPublisher) Publish(ev match.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) types() []protocol.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Message.Type)
	}
	return out
}

type testEnv struct {
	srv       *httptest.Server
	reg       *registry.Registry
	lobby     *lobby.Lobby
	hub       *server.Hub
	publisher *recordingPublisher
}

// newEnv 2x2 棋盤、每人一艘 Boat、邀請者先攻
func newEnv(t *testing.T, opts server.Options) *testEnv {
	t.Helper()
	log := testLogger()

	reg := registry.New(registry.Options{
		Match: match.Options{
			BoardSize:    2,
			Manifest:     board.Manifest{board.Boat: 1},
			TurnDuration: time.Hour,
			FirstTurn:    match.PlayerOne,
			Logger:       log,
		},
		Logger: log,
	})
	lob := lobby.New(nil, reg, log)
	pub := &recordingPublisher{}
	hub := server.NewHub(reg, lob, pub, opts, log)
	srv := httptest.NewServer(server.NewHandler(reg, lob, hub, log).Routes())

	t.Cleanup(func() {
		reg.Stop()
		hub.Stop()
		srv.Close()
	})

	return &testEnv{srv: srv, reg: reg, lobby: lob, hub: hub, publisher: pub}
}

type inbound struct {
	Type protocol.Type   `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (in inbound) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(in.Data, v))
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(typ protocol.Type, data any) {
	c.t.Helper()
	msg := map[string]any{"type": typ}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// expect 讀到指定類型為止（略過其他訊息）
func (c *wsClient) expect(typ protocol.Type) inbound {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(c.t, c.conn.SetReadDeadline(deadline))
	for {
		var in inbound
		if err := c.conn.ReadJSON(&in); err != nil {
			c.t.Fatalf("等待 %s 時讀取失敗: %v", typ, err)
		}
		if in.Type == typ {
			return in
		}
	}
}

// expectError 讀到下一個 error 訊息並檢查錯誤碼
func (c *wsClient) expectError(code string) {
	c.t.Helper()
	var payload protocol.ErrorPayload
	c.expect(protocol.TypeError).decode(c.t, &payload)
	assert.Equal(c.t, code, payload.Code, payload.Message)
}

func (c *wsClient) register(name string) string {
	c.t.Helper()
	c.send(protocol.TypeRegister, protocol.RegisterRequest{Name: name})
	var payload protocol.RegisteredPayload
	c.expect(protocol.TypeRegistered).decode(c.t, &payload)
	require.Equal(c.t, name, payload.Name)
	c.id = payload.PlayerID
	return payload.PlayerID
}

func boatAt(x, y int) protocol.LayoutRequest {
	return protocol.LayoutRequest{Ships: []board.Placement{
		{Type: board.Boat, Origin: board.At(x, y), Orientation: board.Horizontal},
	}}
}

// pair 註冊兩位玩家並由 alice 邀請 bob、bob 接受
func (e *testEnv) pair(t *testing.T) (alice, bob *wsClient, matchID string) {
	t.Helper()
	alice, bob = e.dial(t), e.dial(t)
	alice.register("alice")
	bob.register("bob")

	alice.send(protocol.TypeInvite, protocol.InviteRequest{PlayerID: bob.id})
	var inv protocol.InvitationPayload
	bob.expect(protocol.TypeInvitation).decode(t, &inv)
	require.Equal(t, alice.id, inv.PlayerID)
	assert.Equal(t, "alice", inv.Name)

	bob.send(protocol.TypeInviteResponse, protocol.InviteResponseRequest{InviterID: alice.id, Accept: true})

	var started protocol.MatchStartedPayload
	alice.expect(protocol.TypeMatchStarted).decode(t, &started)
	assert.Equal(t, bob.id, started.Opponent)
	assert.Equal(t, 2, started.BoardSize)
	bob.expect(protocol.TypeMatchStarted)

	return alice, bob, started.MatchID
}

// startPlaying 雙方佈陣完成；bob 的船在 A1，alice 的船在 B2
func (e *testEnv) startPlaying(t *testing.T) (alice, bob *wsClient, matchID string) {
	t.Helper()
	alice, bob, matchID = e.pair(t)

	alice.send(protocol.TypeSubmitLayout, boatAt(1, 1))
	alice.expect(protocol.TypeLayoutAccepted)
	alice.expect(protocol.TypeWaitingForOpponent)

	bob.send(protocol.TypeSubmitLayout, boatAt(0, 0))
	bob.expect(protocol.TypeLayoutAccepted)

	var ready protocol.BothReadyPayload
	bob.expect(protocol.TypeBothReady).decode(t, &ready)
	assert.Equal(t, alice.id, ready.FirstPlayer)
	alice.expect(protocol.TypeRequestShot)

	return alice, bob, matchID
}

func TestServer_FullMatch(t *testing.T) {
	e := newEnv(t, server.Options{TimeUpdateInterval: -1})
	alice, bob, matchID := e.startPlaying(t)

	alice.send(protocol.TypeFire, protocol.FireRequest{Coord: "A1"})

	var shotView protocol.ShotResultPayload
	alice.expect(protocol.TypeShotResult).decode(t, &shotView)
	assert.Equal(t, string(match.ResultMatchWon), shotView.Result)
	assert.Equal(t, "A1", shotView.Coord)
	assert.Equal(t, board.CellSunk, shotView.OpponentBoard[0][0])

	alice.expect(protocol.TypeWon)
	bob.expect(protocol.TypeLost)

	var finished protocol.FinishedPayload
	bob.expect(protocol.TypeMatchFinished).decode(t, &finished)
	assert.Equal(t, matchID, finished.MatchID)
	assert.Equal(t, alice.id, finished.Winner)
	assert.Equal(t, string(match.ReasonVictory), finished.Reason)

	m, err := e.reg.GetMatch(matchID)
	require.NoError(t, err)
	assert.Equal(t, match.StateFinished, m.State())

	assert.Eventually(t, func() bool {
		types := e.publisher.types()
		return len(types) > 0 && types[len(types)-1] == protocol.TypeMatchFinished
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ShotRejections(t *testing.T) {
	e := newEnv(t, server.Options{TimeUpdateInterval: -1})
	alice, bob, _ := e.startPlaying(t)

	bob.send(protocol.TypeFire, protocol.FireRequest{Coord: "A1"})
	bob.expectError(apperrors.ErrCodeNotYourTurn)

	alice.send(protocol.TypeFire, protocol.FireRequest{Coord: "C1"})
	alice.expectError(apperrors.ErrCodeInvalidCoordinate)

	alice.send(protocol.TypeFire, map[string]any{})
	alice.expectError(apperrors.ErrCodeInvalidCoordinate)

	// 仍然輪到 alice：射偏後換 bob
	alice.send(protocol.TypeFire, protocol.FireRequest{Coord: "B1"})
	var shotView protocol.ShotResultPayload
	bob.expect(protocol.TypeShotResult).decode(t, &shotView)
	assert.Equal(t, string(match.ResultMiss), shotView.Result)
	assert.Equal(t, bob.id, shotView.NextPlayer)
	bob.expect(protocol.TypeRequestShot)

	// 佈陣階段已過
	alice.send(protocol.TypeSubmitLayout, boatAt(0, 1))
	alice.expectError(apperrors.ErrCodeNotAwaitingPlacement)
}

func TestServer_Registration(t *testing.T) {
	tests := []struct {
		name     string
		validate func(t *testing.T, e *testEnv)
	}{
		{
			name: "duplicate name is case-insensitive",
			validate: func(t *testing.T, e *testEnv) {
				e.dial(t).register("alice")

				other := e.dial(t)
				other.send(protocol.TypeRegister, protocol.RegisterRequest{Name: "ALICE"})
				var payload protocol.ErrorPayload
				other.expect(protocol.TypeDuplicateName).decode(t, &payload)
				assert.Equal(t, apperrors.ErrCodeDuplicateName, payload.Code)

				// 換個名字仍可註冊
				other.register("carol")
			},
		},
		{
			name: "messages before register are rejected",
			validate: func(t *testing.T, e *testEnv) {
				c := e.dial(t)
				c.send(protocol.TypeListPlayers, nil)
				c.expectError(apperrors.ErrCodeInvalidInput)

				c.send(protocol.TypePing, nil)
				c.expect(protocol.TypePong)
			},
		},
		{
			name: "register twice",
			validate: func(t *testing.T, e *testEnv) {
				c := e.dial(t)
				c.register("alice")
				c.send(protocol.TypeRegister, protocol.RegisterRequest{Name: "alice2"})
				c.expectError(apperrors.ErrCodeInvalidInput)
			},
		},
		{
			name: "empty name",
			validate: func(t *testing.T, e *testEnv) {
				c := e.dial(t)
				c.send(protocol.TypeRegister, protocol.RegisterRequest{Name: "  "})
				c.expectError(apperrors.ErrCodeInvalidInput)
			},
		},
		{
			name: "malformed frame and unknown type",
			validate: func(t *testing.T, e *testEnv) {
				c := e.dial(t)
				require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
				c.expectError(apperrors.ErrCodeInvalidInput)

				c.register("alice")
				c.send("teleport", nil)
				c.expectError(apperrors.ErrCodeInvalidInput)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, newEnv(t, server.Options{TimeUpdateInterval: -1}))
		})
	}
}

func TestServer_Lobby(t *testing.T) {
	e := newEnv(t, server.Options{TimeUpdateInterval: -1})
	alice, bob := e.dial(t), e.dial(t)
	alice.register("alice")
	bob.register("bob")

	alice.send(protocol.TypeListPlayers, nil)
	var list protocol.PlayerListPayload
	alice.expect(protocol.TypePlayerList).decode(t, &list)
	require.Len(t, list.Players, 1)
	assert.Equal(t, bob.id, list.Players[0].ID)

	// 邀請自己
	alice.send(protocol.TypeInvite, protocol.InviteRequest{PlayerID: alice.id})
	alice.expectError(apperrors.ErrCodeInvalidInput)

	// 拒絕邀請
	alice.send(protocol.TypeInvite, protocol.InviteRequest{PlayerID: bob.id})
	bob.expect(protocol.TypeInvitation)
	bob.send(protocol.TypeInviteResponse, protocol.InviteResponseRequest{InviterID: alice.id, Accept: false})

	var rejected protocol.InvitationPayload
	alice.expect(protocol.TypeInviteRejected).decode(t, &rejected)
	assert.Equal(t, bob.id, rejected.PlayerID)
	assert.Zero(t, e.reg.CountMatches())

	// 已回覆過的邀請不能再接受
	bob.send(protocol.TypeInviteResponse, protocol.InviteResponseRequest{InviterID: alice.id, Accept: true})
	bob.expectError(apperrors.ErrCodeNotFound)
}

func TestServer_Disconnect(t *testing.T) {
	tests := []struct {
		name     string
		validate func(t *testing.T, e *testEnv)
	}{
		{
			name: "disconnect during placement forfeits",
			validate: func(t *testing.T, e *testEnv) {
				alice, bob, matchID := e.pair(t)
				require.NoError(t, alice.conn.Close())

				bob.expect(protocol.TypeWon)
				var finished protocol.FinishedPayload
				bob.expect(protocol.TypeMatchFinished).decode(t, &finished)
				assert.Equal(t, matchID, finished.MatchID)
				assert.Equal(t, bob.id, finished.Winner)
				assert.Equal(t, string(match.ReasonDisconnect), finished.Reason)

				assert.Eventually(t, func() bool {
					_, ok := e.lobby.Get(alice.id)
					return !ok
				}, 2*time.Second, 10*time.Millisecond)
			},
		},
		{
			name: "leave forfeits",
			validate: func(t *testing.T, e *testEnv) {
				alice, bob, _ := e.startPlaying(t)
				bob.send(protocol.TypeLeave, nil)

				alice.expect(protocol.TypeWon)
				var finished protocol.FinishedPayload
				bob.expect(protocol.TypeMatchFinished).decode(t, &finished)
				assert.Equal(t, string(match.ReasonForfeit), finished.Reason)

				// 已結束的對局不能再棄權
				bob.send(protocol.TypeLeave, nil)
				bob.expectError(apperrors.ErrCodeMatchFinished)
			},
		},
		{
			name: "pending invite canceled when inviter leaves",
			validate: func(t *testing.T, e *testEnv) {
				alice, bob := e.dial(t), e.dial(t)
				alice.register("alice")
				bob.register("bob")

				alice.send(protocol.TypeInvite, protocol.InviteRequest{PlayerID: bob.id})
				bob.expect(protocol.TypeInvitation)
				require.NoError(t, alice.conn.Close())

				var canceled protocol.MatchCanceledPayload
				bob.expect(protocol.TypeMatchCanceled).decode(t, &canceled)
				assert.Equal(t, alice.id, canceled.PlayerID)
			},
		},
		{
			name: "a new match after the old one finished",
			validate: func(t *testing.T, e *testEnv) {
				alice, bob, first := e.pair(t)
				bob.send(protocol.TypeLeave, nil)
				alice.expect(protocol.TypeMatchFinished)

				alice.send(protocol.TypeInvite, protocol.InviteRequest{PlayerID: bob.id})
				bob.expect(protocol.TypeInvitation)
				bob.send(protocol.TypeInviteResponse, protocol.InviteResponseRequest{InviterID: alice.id, Accept: true})

				var started protocol.MatchStartedPayload
				alice.expect(protocol.TypeMatchStarted).decode(t, &started)
				assert.NotEqual(t, first, started.MatchID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, newEnv(t, server.Options{TimeUpdateInterval: -1}))
		})
	}
}

func TestServer_RateLimited(t *testing.T) {
	e := newEnv(t, server.Options{RateBurst: 2, RatePerSecond: 1, TimeUpdateInterval: -1})
	c := e.dial(t)

	for i := 0; i < 4; i++ {
		c.send(protocol.TypePing, nil)
	}
	c.expect(protocol.TypePong)
	c.expect(protocol.TypePong)
	c.expectError(apperrors.ErrCodeRateLimited)
}

func TestServer_TimeRemaining(t *testing.T) {
	e := newEnv(t, server.Options{TimeUpdateInterval: 20 * time.Millisecond})
	alice, bob, matchID := e.startPlaying(t)

	var payload protocol.TimeRemainingPayload
	bob.expect(protocol.TypeTimeRemaining).decode(t, &payload)
	assert.Equal(t, matchID, payload.MatchID)
	assert.Equal(t, alice.id, payload.Active)
	assert.Greater(t, payload.RemainingSeconds, 0.0)
	assert.LessOrEqual(t, payload.RemainingSeconds, time.Hour.Seconds())
}

func TestHandler(t *testing.T) {
	e := newEnv(t, server.Options{TimeUpdateInterval: -1})
	_, _, matchID := e.pair(t)

	get := func(t *testing.T, path string) (int, map[string]any) {
		t.Helper()
		resp, err := http.Get(e.srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	tests := []struct {
		name     string
		path     string
		validate func(t *testing.T, status int, body map[string]any)
	}{
		{
			name: "health",
			path: "/health",
			validate: func(t *testing.T, status int, body map[string]any) {
				assert.Equal(t, http.StatusOK, status)
				assert.Equal(t, "healthy", body["status"])
			},
		},
		{
			name: "stats",
			path: "/stats",
			validate: func(t *testing.T, status int, body map[string]any) {
				assert.Equal(t, http.StatusOK, status)
				assert.EqualValues(t, 2, body["players"])
				assert.EqualValues(t, 2, body["connections"])
				matches := body["matches"].(map[string]any)
				assert.EqualValues(t, 1, matches["total_matches"])
			},
		},
		{
			name: "list matches",
			path: "/api/v1/matches",
			validate: func(t *testing.T, status int, body map[string]any) {
				assert.Equal(t, http.StatusOK, status)
				assert.EqualValues(t, 1, body["total"])
			},
		},
		{
			name: "filter by state",
			path: "/api/v1/matches?state=in_progress",
			validate: func(t *testing.T, status int, body map[string]any) {
				assert.Equal(t, http.StatusOK, status)
				assert.EqualValues(t, 0, body["total"])
			},
		},
		{
			name: "match detail",
			path: "/api/v1/matches/" + matchID,
			validate: func(t *testing.T, status int, body map[string]any) {
				assert.Equal(t, http.StatusOK, status)
				assert.Equal(t, matchID, body["match_id"])
				assert.Equal(t, string(match.StateAwaitingPlacement), body["state"])
			},
		},
		{
			name: "unknown match",
			path: "/api/v1/matches/nope",
			validate: func(t *testing.T, status int, body map[string]any) {
				assert.Equal(t, http.StatusNotFound, status)
				assert.Equal(t, apperrors.ErrCodeNotFound, body["code"])
			},
		},
		{
			name: "players",
			path: "/api/v1/players",
			validate: func(t *testing.T, status int, body map[string]any) {
				assert.Equal(t, http.StatusOK, status)
				players := body["players"].([]any)
				require.Len(t, players, 2)
				first := players[0].(map[string]any)
				assert.Equal(t, "alice", first["name"])
				assert.Equal(t, true, first["in_match"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, tt.path)
			tt.validate(t, status, body)
		})
	}
}

func TestHub_StopDeliversShutdown(t *testing.T) {
	e := newEnv(t, server.Options{TimeUpdateInterval: -1})
	alice, _, _ := e.pair(t)

	e.reg.Stop()

	var finished protocol.FinishedPayload
	alice.expect(protocol.TypeMatchFinished).decode(t, &finished)
	assert.Equal(t, string(match.ReasonShutdown), finished.Reason)
	assert.Empty(t, finished.Winner)

	e.hub.Stop()
	assert.Zero(t, e.hub.ConnectionCount())
}
