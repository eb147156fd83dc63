// Package protocol 定義客戶端與對戰引擎之間的訊息詞彙
//
// 這裡只描述「有哪些訊息、帶什麼資料」；編碼（JSON over WebSocket）
// 由 server 套件處理，引擎本身只產生 Message 值。
package protocol

import (
	"encoding/json"
	"time"

	"github.com/koopa0/system-design/14-naval-battle/internal/board"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// Type 訊息類型
type Type string

// 註冊 / 連線
const (
	TypeRegister      Type = "register"
	TypeRegistered    Type = "registered"
	TypeDuplicateName Type = "duplicate_name"
)

// 配對
const (
	TypeListPlayers    Type = "list_players"
	TypePlayerList     Type = "player_list"
	TypeInvite         Type = "invite"
	TypeInvitation     Type = "invitation"
	TypeInviteResponse Type = "invite_response"
	TypeInviteRejected Type = "invite_rejected"
	TypeMatchStarted   Type = "match_started"
	TypeMatchCanceled  Type = "match_canceled"
)

// 佈陣
const (
	TypeSubmitLayout       Type = "submit_layout"
	TypeLayoutAccepted     Type = "layout_accepted"
	TypeWaitingForOpponent Type = "waiting_for_opponent"
	TypeBothReady          Type = "both_ready"
)

// 回合
const (
	TypeTurnStarted   Type = "turn_started"
	TypeRequestShot   Type = "request_shot"
	TypeFire          Type = "fire"
	TypeShotResult    Type = "shot_result"
	TypeTurnChanged   Type = "turn_changed"
	TypeTurnTimeout   Type = "turn_timeout"
	TypeTimeRemaining Type = "time_remaining"
)

// 結束
const (
	TypeWon           Type = "won"
	TypeLost          Type = "lost"
	TypeMatchFinished Type = "match_finished"
	TypeLeave         Type = "leave"
)

// 通用
const (
	TypeError      Type = "error"
	TypeDisconnect Type = "disconnect"
	TypePing       Type = "ping"
	TypePong       Type = "pong"
)

// Message 送往客戶端的訊息
type Message struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

// Envelope 客戶端送來的訊息（Data 延後解析）
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode 解析 Data 到指定結構
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// --- 客戶端請求 ---

// RegisterRequest 註冊暱稱
type RegisterRequest struct {
	Name string `json:"name"`
}

// InviteRequest 邀請對手
type InviteRequest struct {
	PlayerID string `json:"player_id"`
}

// InviteResponseRequest 回覆邀請
type InviteResponseRequest struct {
	InviterID string `json:"inviter_id"`
	Accept    bool   `json:"accept"`
}

// LayoutRequest 提交艦隊佈陣
type LayoutRequest struct {
	Ships []board.Placement `json:"ships"`
}

// FireRequest 射擊請求
//
// 支援 {"x":1,"y":6} 或 {"coord":"B7"} 兩種寫法，Coord 優先。
type FireRequest struct {
	X     *int   `json:"x,omitempty"`
	Y     *int   `json:"y,omitempty"`
	Coord string `json:"coord,omitempty"`
}

// Coordinate 解析射擊座標
func (r FireRequest) Coordinate() (board.Coordinate, error) {
	if r.Coord != "" {
		return board.ParseCoordinate(r.Coord)
	}
	if r.X == nil || r.Y == nil {
		return board.Coordinate{}, apperrors.ErrInvalidCoordinate.WithDetails("missing coordinate")
	}
	return board.At(*r.X, *r.Y), nil
}

// --- 伺服器推送 ---

// PlayerInfo 大廳中的玩家
type PlayerInfo struct {
	ID      string `json:"player_id"`
	Name    string `json:"name"`
	InMatch bool   `json:"in_match"`
}

// RegisteredPayload 註冊成功
type RegisteredPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

// PlayerListPayload 可配對玩家列表
type PlayerListPayload struct {
	Players []PlayerInfo `json:"players"`
}

// InvitationPayload 收到邀請 / 邀請被拒
type InvitationPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name,omitempty"`
}

// MatchStartedPayload 對局建立
type MatchStartedPayload struct {
	MatchID     string         `json:"match_id"`
	Opponent    string         `json:"opponent"`
	BoardSize   int            `json:"board_size"`
	Fleet       board.Manifest `json:"fleet"`
	TurnSeconds int            `json:"turn_seconds"`
}

// MatchCanceledPayload 對局 / 邀請取消
type MatchCanceledPayload struct {
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason"`
}

// LayoutAcceptedPayload 佈陣已接受
type LayoutAcceptedPayload struct {
	MatchID string              `json:"match_id"`
	Ships   []board.Placement   `json:"ships"`
	Board   [][]board.CellState `json:"board"`
}

// MatchRefPayload 只帶對局 ID 的通知
type MatchRefPayload struct {
	MatchID string `json:"match_id"`
}

// BothReadyPayload 雙方佈陣完成
type BothReadyPayload struct {
	MatchID     string `json:"match_id"`
	FirstPlayer string `json:"first_player"`
}

// TurnPayload 回合開始 / 換手 / 請求射擊
type TurnPayload struct {
	MatchID     string `json:"match_id"`
	Active      string `json:"active_player"`
	Turn        int    `json:"turn"`
	TurnSeconds int    `json:"turn_seconds"`
}

// TimeoutPayload 回合逾時
type TimeoutPayload struct {
	MatchID  string `json:"match_id"`
	PlayerID string `json:"player_id"`
}

// TimeRemainingPayload 剩餘時間更新
type TimeRemainingPayload struct {
	MatchID          string  `json:"match_id"`
	Active           string  `json:"active_player"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// ShotResultPayload 射擊結果（每位收件者拿到自己的視角）
type ShotResultPayload struct {
	MatchID       string              `json:"match_id"`
	Shooter       string              `json:"shooter"`
	Coordinate    board.Coordinate    `json:"coordinate"`
	Coord         string              `json:"coord"`
	Result        string              `json:"result"`
	ShipType      board.ShipType      `json:"ship_type,omitempty"`
	NextPlayer    string              `json:"next_player,omitempty"`
	OwnBoard      [][]board.CellState `json:"own_board"`
	OpponentBoard [][]board.CellState `json:"opponent_board"`
}

// PlayerStats 單一玩家的射擊統計
type PlayerStats struct {
	PlayerID       string  `json:"player_id"`
	Shots          int     `json:"shots"`
	Hits           int     `json:"hits"`
	Accuracy       float64 `json:"accuracy"`
	ShipsRemaining int     `json:"ships_remaining"`
}

// FinishedPayload 對局結束
type FinishedPayload struct {
	MatchID    string        `json:"match_id"`
	Winner     string        `json:"winner,omitempty"`
	Reason     string        `json:"reason"`
	FinishedAt time.Time     `json:"finished_at"`
	Stats      []PlayerStats `json:"stats"`
}

// ErrorPayload 錯誤通知
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorMessage 把錯誤轉成 error 訊息
func ErrorMessage(err error) Message {
	return Message{
		Type: TypeError,
		Data: ErrorPayload{Code: apperrors.CodeOf(err), Message: err.Error()},
	}
}
