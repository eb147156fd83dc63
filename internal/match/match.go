// Package match 實現單場對局的狀態機與回合計時
//
// 系統設計問題：
//
//	兩位玩家的射擊與計時器逾時同時到達時，誰先生效？
//
// 核心挑戰：
//  1. 互斥：射擊、逾時、佈陣、棄權都會修改同一份對局狀態
//  2. 競態：逾時回調可能在合法射擊判定途中抵達
//  3. 終局：對局結束後不能再有任何逾時或射擊生效
//
// 設計方案：
//
//	✅ 每局一把鎖：同一局內所有事件全序，不同對局互不阻塞
//	✅ 射擊判定期間暫停計時器；換手時重啟（世代號遞增）
//	✅ 逾時回調拿到鎖後以世代號確認，過期的一律丟棄
//	✅ 結束時在鎖內同步取消計時器
//	✅ 對外只透過事件 channel 推送，不直接呼叫傳輸層
package match

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dariubs/percent"

	"github.com/koopa0/system-design/14-naval-battle/internal/board"
	"github.com/koopa0/system-design/14-naval-battle/internal/protocol"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// State 對局狀態
type State string

const (
	StateAwaitingPlacement         State = "awaiting_placement"
	StateAwaitingOpponentPlacement State = "awaiting_opponent_placement"
	StateInProgress                State = "in_progress"
	StateFinished                  State = "finished"
)

// FinishReason 結束原因
type FinishReason string

const (
	ReasonVictory      FinishReason = "victory"
	ReasonForfeit      FinishReason = "forfeit"
	ReasonDisconnect   FinishReason = "disconnect"
	ReasonTimeoutLimit FinishReason = "timeout_limit"
	ReasonShutdown     FinishReason = "shutdown"
)

// FirstTurnRule 先手規則
type FirstTurnRule string

const (
	FirstPlaced FirstTurnRule = "first_placed" // 先完成佈陣者先手
	PlayerOne   FirstTurnRule = "player_one"   // 固定由建立對局時的第一位玩家先手
)

// Result 射擊結果標籤
type Result string

const (
	ResultMiss       Result = "miss"
	ResultHit        Result = "hit"
	ResultHitAndSunk Result = "hit_and_sunk"
	ResultMatchWon   Result = "match_won"
)

// Options 對局參數
type Options struct {
	BoardSize              int
	Manifest               board.Manifest
	TurnDuration           time.Duration
	ExtraShotOnHit         bool
	FirstTurn              FirstTurnRule
	MaxConsecutiveTimeouts int // 0 表示停用
	EventBuffer            int
	Logger                 *slog.Logger
}

// DefaultOptions 預設參數
func DefaultOptions() Options {
	return Options{
		BoardSize:    board.DefaultSize,
		Manifest:     board.DefaultManifest(),
		TurnDuration: 30 * time.Second,
		FirstTurn:    FirstPlaced,
		EventBuffer:  256,
	}
}

// ShotOutcome 一次成功判定的射擊
type ShotOutcome struct {
	Result     Result           `json:"result"`
	Shooter    string           `json:"shooter"`
	Target     string           `json:"target"`
	Coordinate board.Coordinate `json:"coordinate"`
	ShipType   board.ShipType   `json:"ship_type,omitempty"`
	NextPlayer string           `json:"next_player,omitempty"`
}

// TurnSwitch 逾時造成的換手
type TurnSwitch struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Finished bool   `json:"finished"`
}

// Event 對局推送給傳輸層的訊息
type Event struct {
	MatchID string
	To      []string
	Message protocol.Message
}

// player 對局中單一玩家的狀態
type player struct {
	id       string
	board    *board.Board
	placed   bool
	shots    int
	hits     int
	timeouts int // 連續逾時次數
}

// Match 單場對局
type Match struct {
	id     string
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	players     [2]*player
	active      int
	turn        int
	firstPlaced int
	winner      string
	reason      FinishReason
	createdAt   time.Time
	startedAt   time.Time
	finishedAt  time.Time

	timer *TurnTimer

	events  chan Event
	closed  bool
	dropped int
}

// New 創建對局（初始狀態 AwaitingPlacement）
func New(id, player1, player2 string, opts Options) *Match {
	defaults := DefaultOptions()
	if opts.BoardSize <= 0 {
		opts.BoardSize = defaults.BoardSize
	}
	if len(opts.Manifest) == 0 {
		opts.Manifest = defaults.Manifest
	}
	if opts.TurnDuration <= 0 {
		opts.TurnDuration = defaults.TurnDuration
	}
	if opts.FirstTurn == "" {
		opts.FirstTurn = defaults.FirstTurn
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaults.EventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Match{
		id:          id,
		opts:        opts,
		logger:      opts.Logger.With("match_id", id),
		state:       StateAwaitingPlacement,
		firstPlaced: -1,
		createdAt:   time.Now(),
		events:      make(chan Event, opts.EventBuffer),
	}
	m.players[0] = &player{id: player1, board: board.NewBoard(opts.BoardSize, opts.Manifest)}
	m.players[1] = &player{id: player2, board: board.NewBoard(opts.BoardSize, opts.Manifest)}
	m.timer = NewTurnTimer(opts.TurnDuration, m.handleExpiry)

	for i, p := range m.players {
		m.emit(protocol.Message{
			Type: protocol.TypeMatchStarted,
			Data: protocol.MatchStartedPayload{
				MatchID:     id,
				Opponent:    m.players[1-i].id,
				BoardSize:   opts.BoardSize,
				Fleet:       opts.Manifest,
				TurnSeconds: int(opts.TurnDuration / time.Second),
			},
		}, p.id)
	}

	m.logger.Info("match created", "player1", player1, "player2", player2)
	return m
}

// SubmitPlacement 提交整套艦隊佈陣
//
// 佈陣必須與艦隊清單完全相符；任何錯誤都不改變對局狀態。
func (m *Match) SubmitPlacement(playerID string, layout []board.Placement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indexOf(playerID)
	if !ok {
		return apperrors.ErrNotAParticipant.WithDetails("%s", playerID)
	}
	if m.state != StateAwaitingPlacement && m.state != StateAwaitingOpponentPlacement {
		return apperrors.ErrNotAwaitingPlacement.WithDetails("match is %s", m.state)
	}
	p := m.players[idx]
	if p.placed {
		return apperrors.ErrNotAwaitingPlacement.WithDetails("layout already submitted")
	}

	b := board.NewBoard(m.opts.BoardSize, m.opts.Manifest)
	for _, pl := range layout {
		ship, err := board.FromPlacement(pl)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidLayout, "invalid fleet layout")
		}
		if err := b.PlaceShip(ship); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidLayout, "invalid fleet layout")
		}
	}
	if !b.IsComplete() {
		return apperrors.ErrInvalidLayout.WithDetails("fleet incomplete: %d of %d ships placed",
			len(b.Ships()), m.opts.Manifest.Total())
	}

	p.board = b
	p.placed = true
	m.emit(protocol.Message{
		Type: protocol.TypeLayoutAccepted,
		Data: protocol.LayoutAcceptedPayload{MatchID: m.id, Ships: b.Placements(), Board: b.View(true)},
	}, p.id)

	if !m.players[1-idx].placed {
		m.state = StateAwaitingOpponentPlacement
		m.firstPlaced = idx
		m.emit(protocol.Message{
			Type: protocol.TypeWaitingForOpponent,
			Data: protocol.MatchRefPayload{MatchID: m.id},
		}, p.id)
		m.logger.Debug("layout accepted, waiting for opponent", "player_id", playerID)
		return nil
	}

	m.startLocked()
	return nil
}

// startLocked 雙方佈陣完成，進入 InProgress
func (m *Match) startLocked() {
	m.state = StateInProgress
	m.startedAt = time.Now()
	m.turn = 1

	switch m.opts.FirstTurn {
	case PlayerOne:
		m.active = 0
	default:
		m.active = max(m.firstPlaced, 0)
	}
	m.timer.Start(m.opts.TurnDuration)

	m.emit(protocol.Message{
		Type: protocol.TypeBothReady,
		Data: protocol.BothReadyPayload{MatchID: m.id, FirstPlayer: m.players[m.active].id},
	}, m.playerIDs()...)
	m.emit(protocol.Message{Type: protocol.TypeTurnStarted, Data: m.turnPayload()}, m.playerIDs()...)
	m.emit(protocol.Message{Type: protocol.TypeRequestShot, Data: m.turnPayload()}, m.players[m.active].id)

	m.logger.Info("match in progress", "first_player", m.players[m.active].id)
}

// SubmitShot 射擊（權威入口）
//
// 順序：狀態 → 暫停計時器 → 輪到誰 → 座標 → 判定 → 終局或換手 → 恢復計時器。
func (m *Match) SubmitShot(playerID string, c board.Coordinate) (ShotOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateInProgress:
	case StateFinished:
		return ShotOutcome{}, apperrors.ErrMatchFinished
	default:
		return ShotOutcome{}, apperrors.ErrMatchNotInProgress.WithDetails("match is %s", m.state)
	}

	// 暫停失敗代表計時器已到期；該次逾時會在取得鎖後以世代號檢查
	m.timer.Pause()
	defer m.timer.Resume()

	idx, ok := m.indexOf(playerID)
	if !ok {
		return ShotOutcome{}, apperrors.ErrNotAParticipant.WithDetails("%s", playerID)
	}
	if idx != m.active {
		return ShotOutcome{}, apperrors.ErrNotYourTurn.WithDetails("active player is %s", m.players[m.active].id)
	}

	target := m.players[1-idx]
	if !target.board.InBounds(c) {
		return ShotOutcome{}, apperrors.ErrInvalidCoordinate.WithDetails("%s outside %dx%d board",
			c, m.opts.BoardSize, m.opts.BoardSize)
	}

	res, err := target.board.ReceiveShot(c)
	if err != nil {
		return ShotOutcome{}, err
	}

	shooter := m.players[idx]
	shooter.shots++
	shooter.timeouts = 0

	out := ShotOutcome{
		Result:     ResultMiss,
		Shooter:    shooter.id,
		Target:     target.id,
		Coordinate: c,
	}
	if res.Hit {
		shooter.hits++
		out.ShipType = res.ShipType
		out.Result = ResultHit
		if res.Sunk {
			out.Result = ResultHitAndSunk
		}
	}

	if res.Sunk && target.board.AllShipsSunk() {
		out.Result = ResultMatchWon
		m.emitShotResult(out)
		m.finishLocked(idx, ReasonVictory)
		return out, nil
	}

	prev := m.active
	if !(res.Hit && m.opts.ExtraShotOnHit) {
		m.active = 1 - m.active
	}
	m.turn++
	m.timer.Restart()

	out.NextPlayer = m.players[m.active].id
	m.emitShotResult(out)
	m.announceTurnLocked(prev)

	m.logger.Debug("shot resolved",
		"player_id", playerID,
		"coord", c.String(),
		"result", out.Result,
		"next_player", out.NextPlayer,
	)
	return out, nil
}

// ForceTimeout 強制逾時：放棄當前玩家的回合，不消耗射擊
func (m *Match) ForceTimeout() (TurnSwitch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInProgress {
		return TurnSwitch{}, apperrors.ErrMatchNotInProgress.WithDetails("match is %s", m.state)
	}
	return m.forceTimeoutLocked(), nil
}

// handleExpiry 計時器到期回調（在計時器的 goroutine 上執行）
func (m *Match) handleExpiry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInProgress {
		return
	}
	if !m.timer.consume(gen) {
		m.logger.Debug("stale timeout discarded", "generation", gen)
		return
	}
	m.forceTimeoutLocked()
}

func (m *Match) forceTimeoutLocked() TurnSwitch {
	p := m.players[m.active]
	p.timeouts++

	m.emit(protocol.Message{
		Type: protocol.TypeTurnTimeout,
		Data: protocol.TimeoutPayload{MatchID: m.id, PlayerID: p.id},
	}, m.playerIDs()...)
	m.logger.Info("turn timed out", "player_id", p.id, "consecutive", p.timeouts)

	if limit := m.opts.MaxConsecutiveTimeouts; limit > 0 && p.timeouts >= limit {
		m.finishLocked(1-m.active, ReasonTimeoutLimit)
		return TurnSwitch{From: p.id, Finished: true}
	}

	prev := m.active
	m.active = 1 - m.active
	m.turn++
	m.timer.Restart()
	m.announceTurnLocked(prev)

	return TurnSwitch{From: p.id, To: m.players[m.active].id}
}

// Forfeit 玩家棄權（任何未結束狀態皆可），對手獲勝
func (m *Match) Forfeit(playerID string, reason FinishReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFinished {
		return apperrors.ErrMatchFinished
	}
	idx, ok := m.indexOf(playerID)
	if !ok {
		return apperrors.ErrNotAParticipant.WithDetails("%s", playerID)
	}
	if reason == "" {
		reason = ReasonForfeit
	}
	m.finishLocked(1-idx, reason)
	return nil
}

// Abort 無勝負地結束對局（伺服器關閉時使用），已結束則回傳 false
func (m *Match) Abort(reason FinishReason) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFinished {
		return false
	}
	m.finishLocked(-1, reason)
	return true
}

// finishLocked 進入終局；winner 為 -1 表示無勝者
//
// 計時器在同一把鎖內取消，之後到達的逾時回調只會看到 Finished。
func (m *Match) finishLocked(winner int, reason FinishReason) {
	m.state = StateFinished
	m.timer.Cancel()
	m.finishedAt = time.Now()
	m.reason = reason

	if winner >= 0 {
		m.winner = m.players[winner].id
		ref := protocol.MatchRefPayload{MatchID: m.id}
		m.emit(protocol.Message{Type: protocol.TypeWon, Data: ref}, m.players[winner].id)
		m.emit(protocol.Message{Type: protocol.TypeLost, Data: ref}, m.players[1-winner].id)
	}

	m.emit(protocol.Message{
		Type: protocol.TypeMatchFinished,
		Data: protocol.FinishedPayload{
			MatchID:    m.id,
			Winner:     m.winner,
			Reason:     string(reason),
			FinishedAt: m.finishedAt,
			Stats:      m.statsLocked(),
		},
	}, m.playerIDs()...)

	m.logger.Info("match finished", "winner", m.winner, "reason", reason, "turns", m.turn)
}

// Close 停止計時器並關閉事件 channel（冪等）
func (m *Match) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timer.Cancel()
	if m.closed {
		return
	}
	m.closed = true
	close(m.events)
}

// Events 對外事件 channel；Close 後關閉
func (m *Match) Events() <-chan Event {
	return m.events
}

// emit 非阻塞推送；消費者跟不上時丟棄並記錄
func (m *Match) emit(msg protocol.Message, to ...string) {
	if m.closed {
		return
	}
	select {
	case m.events <- Event{MatchID: m.id, To: to, Message: msg}:
	default:
		m.dropped++
		m.logger.Warn("event channel full, dropping event", "type", msg.Type, "dropped", m.dropped)
	}
}

// emitShotResult 兩位玩家各自收到自己的視角
func (m *Match) emitShotResult(out ShotOutcome) {
	for _, p := range m.players {
		opp := m.players[0]
		if opp == p {
			opp = m.players[1]
		}
		m.emit(protocol.Message{
			Type: protocol.TypeShotResult,
			Data: protocol.ShotResultPayload{
				MatchID:       m.id,
				Shooter:       out.Shooter,
				Coordinate:    out.Coordinate,
				Coord:         out.Coordinate.String(),
				Result:        string(out.Result),
				ShipType:      out.ShipType,
				NextPlayer:    out.NextPlayer,
				OwnBoard:      p.board.View(true),
				OpponentBoard: opp.board.View(false),
			},
		}, p.id)
	}
}

// announceTurnLocked 換手後通知雙方，並向新的行動者請求射擊
func (m *Match) announceTurnLocked(prev int) {
	payload := m.turnPayload()
	if prev != m.active {
		m.emit(protocol.Message{Type: protocol.TypeTurnChanged, Data: payload}, m.playerIDs()...)
	}
	m.emit(protocol.Message{Type: protocol.TypeRequestShot, Data: payload}, m.players[m.active].id)
}

func (m *Match) turnPayload() protocol.TurnPayload {
	return protocol.TurnPayload{
		MatchID:     m.id,
		Active:      m.players[m.active].id,
		Turn:        m.turn,
		TurnSeconds: int(m.opts.TurnDuration / time.Second),
	}
}

func (m *Match) indexOf(playerID string) (int, bool) {
	for i, p := range m.players {
		if p.id == playerID {
			return i, true
		}
	}
	return -1, false
}

func (m *Match) playerIDs() []string {
	return []string{m.players[0].id, m.players[1].id}
}

func (m *Match) statsLocked() []protocol.PlayerStats {
	stats := make([]protocol.PlayerStats, 0, len(m.players))
	for _, p := range m.players {
		s := protocol.PlayerStats{
			PlayerID:       p.id,
			Shots:          p.shots,
			Hits:           p.hits,
			ShipsRemaining: p.board.ShipsRemaining(),
		}
		if p.shots > 0 {
			s.Accuracy = percent.PercentOf(p.hits, p.shots)
		}
		stats = append(stats, s)
	}
	return stats
}
