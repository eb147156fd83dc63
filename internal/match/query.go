package match

import (
	"time"

	"github.com/koopa0/system-design/14-naval-battle/internal/board"
	"github.com/koopa0/system-design/14-naval-battle/internal/protocol"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// Summary 對局快照（HTTP 查詢用）
type Summary struct {
	ID               string                 `json:"match_id"`
	Players          []string               `json:"players"`
	State            State                  `json:"state"`
	ActivePlayer     string                 `json:"active_player,omitempty"`
	Turn             int                    `json:"turn"`
	RemainingSeconds float64                `json:"remaining_seconds,omitempty"`
	Winner           string                 `json:"winner,omitempty"`
	Reason           FinishReason           `json:"reason,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	FinishedAt       *time.Time             `json:"finished_at,omitempty"`
	Stats            []protocol.PlayerStats `json:"stats"`
}

// ID 對局 ID
func (m *Match) ID() string { return m.id }

// Players 兩位玩家 ID（建立順序）
func (m *Match) Players() [2]string {
	return [2]string{m.players[0].id, m.players[1].id}
}

// Opponent 取得對手 ID
func (m *Match) Opponent(playerID string) (string, bool) {
	idx, ok := m.indexOf(playerID)
	if !ok {
		return "", false
	}
	return m.players[1-idx].id, true
}

// State 目前狀態
func (m *Match) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsFinished 是否已結束
func (m *Match) IsFinished() bool {
	return m.State() == StateFinished
}

// ActivePlayer 目前行動者；只在 InProgress 有意義
func (m *Match) ActivePlayer() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInProgress {
		return "", false
	}
	return m.players[m.active].id, true
}

// Turn 回合序號（從 1 開始）
func (m *Match) Turn() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}

// Winner 勝者與結束原因
func (m *Match) Winner() (string, FinishReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.winner, m.reason
}

// FinishedAt 結束時間；未結束時為零值
func (m *Match) FinishedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishedAt
}

// CreatedAt 建立時間
func (m *Match) CreatedAt() time.Time { return m.createdAt }

// TurnRemaining 當前回合剩餘時間
func (m *Match) TurnRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInProgress {
		return 0
	}
	return m.timer.Remaining()
}

// Fleet 玩家已提交的佈陣
func (m *Match) Fleet(playerID string) ([]board.Placement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indexOf(playerID)
	if !ok {
		return nil, apperrors.ErrNotAParticipant.WithDetails("%s", playerID)
	}
	return m.players[idx].board.Placements(), nil
}

// Views 玩家視角：自己的棋盤（含艦艇）與對手的棋盤（只含射擊結果）
func (m *Match) Views(playerID string) (own, opponent [][]board.CellState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indexOf(playerID)
	if !ok {
		return nil, nil, apperrors.ErrNotAParticipant.WithDetails("%s", playerID)
	}
	return m.players[idx].board.View(true), m.players[1-idx].board.View(false), nil
}

// Stats 雙方射擊統計
func (m *Match) Stats() []protocol.PlayerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

// Summary 對局快照
func (m *Match) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		ID:        m.id,
		Players:   m.playerIDs(),
		State:     m.state,
		Turn:      m.turn,
		Winner:    m.winner,
		Reason:    m.reason,
		CreatedAt: m.createdAt,
		Stats:     m.statsLocked(),
	}
	if m.state == StateInProgress {
		s.ActivePlayer = m.players[m.active].id
		s.RemainingSeconds = m.timer.Remaining().Seconds()
	}
	if !m.finishedAt.IsZero() {
		t := m.finishedAt
		s.FinishedAt = &t
	}
	return s
}

// TimeRemainingMessage 剩餘時間訊息；不在 InProgress 時回傳 false
func (m *Match) TimeRemainingMessage() (protocol.Message, []string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInProgress {
		return protocol.Message{}, nil, false
	}
	return protocol.Message{
		Type: protocol.TypeTimeRemaining,
		Data: protocol.TimeRemainingPayload{
			MatchID:          m.id,
			Active:           m.players[m.active].id,
			RemainingSeconds: m.timer.Remaining().Seconds(),
		},
	}, m.playerIDs(), true
}

// DroppedEvents 因 channel 滿而丟棄的事件數
func (m *Match) DroppedEvents() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
