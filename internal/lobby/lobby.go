// Package lobby 管理已連線玩家的註冊、可配對列表與邀請
//
// 核心挑戰：
//  1. 暱稱唯一（可跨伺服器）
//  2. 邀請可能在對方斷線、或已被別人配走之後才被接受
//
// 設計方案：
//
//	✅ 暱稱唯一性委派給 NameStore（記憶體或 Redis）
//	✅ 接受邀請時才向 Registry 建立對局，「玩家已在對局中」由 Registry 原子地判定
//	✅ 玩家離開時回傳受影響的對象，由傳輸層通知 match_canceled
package lobby

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-naval-battle/internal/match"
	"github.com/koopa0/system-design/14-naval-battle/internal/protocol"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// MaxNameLength 暱稱最大長度（字元）
const MaxNameLength = 32

// Matchmaker 建立對局並回答玩家是否忙碌（由 registry.Registry 實現）
type Matchmaker interface {
	CreateMatch(player1, player2 string) (*match.Match, error)
	IsPlayerBusy(playerID string) bool
}

// Player 大廳中的玩家
type Player struct {
	ID       string    `json:"player_id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// Lobby 大廳
type Lobby struct {
	players map[string]*Player              // playerID -> Player
	invites map[string]map[string]time.Time // invitee -> inviter -> 邀請時間
	mu      sync.RWMutex

	names   NameStore
	matches Matchmaker
	logger  *slog.Logger
}

// New 創建大廳
func New(names NameStore, matches Matchmaker, logger *slog.Logger) *Lobby {
	if names == nil {
		names = NewMemoryNameStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lobby{
		players: make(map[string]*Player),
		invites: make(map[string]map[string]time.Time),
		names:   names,
		matches: matches,
		logger:  logger,
	}
}

// Register 以暱稱註冊，配發新的玩家 ID
func (l *Lobby) Register(ctx context.Context, name string) (*Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ErrInvalidInput.WithDetails("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, apperrors.ErrInvalidInput.WithDetails("name longer than %d characters", MaxNameLength)
	}

	id := uuid.NewString()
	ok, err := l.names.Reserve(ctx, name, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "name store unavailable")
	}
	if !ok {
		return nil, apperrors.ErrDuplicateName.WithDetails("%q", name)
	}

	p := &Player{ID: id, Name: name, JoinedAt: time.Now()}

	l.mu.Lock()
	l.players[id] = p
	l.mu.Unlock()

	l.logger.Info("玩家已註冊", "player_id", id, "name", name)
	return p, nil
}

// Unregister 玩家離開大廳，回傳有待處理邀請的對象
func (l *Lobby) Unregister(ctx context.Context, playerID string) []string {
	l.mu.Lock()
	p, ok := l.players[playerID]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	delete(l.players, playerID)
	affected := l.dropInvitesLocked(playerID)
	l.mu.Unlock()

	if err := l.names.Release(ctx, p.Name, playerID); err != nil {
		l.logger.Warn("釋放暱稱失敗", "player_id", playerID, "error", err)
	}

	l.logger.Info("玩家已離開", "player_id", playerID, "name", p.Name)
	return affected
}

// dropInvitesLocked 刪除所有與該玩家有關的邀請，回傳另一方
func (l *Lobby) dropInvitesLocked(playerID string) []string {
	seen := make(map[string]struct{})
	for inviter := range l.invites[playerID] {
		seen[inviter] = struct{}{}
	}
	delete(l.invites, playerID)

	for invitee, from := range l.invites {
		if _, ok := from[playerID]; ok {
			delete(from, playerID)
			seen[invitee] = struct{}{}
			if len(from) == 0 {
				delete(l.invites, invitee)
			}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Get 取得玩家
func (l *Lobby) Get(playerID string) (*Player, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.players[playerID]
	return p, ok
}

// Count 在線玩家數
func (l *Lobby) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.players)
}

// Players 所有在線玩家（依暱稱排序）
func (l *Lobby) Players() []protocol.PlayerInfo {
	l.mu.RLock()
	out := make([]protocol.PlayerInfo, 0, len(l.players))
	for _, p := range l.players {
		out = append(out, protocol.PlayerInfo{ID: p.ID, Name: p.Name})
	}
	l.mu.RUnlock()

	for i := range out {
		out[i].InMatch = l.matches.IsPlayerBusy(out[i].ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Available 可以邀請的玩家（排除自己與對局中的玩家）
func (l *Lobby) Available(excludeID string) []protocol.PlayerInfo {
	all := l.Players()
	out := make([]protocol.PlayerInfo, 0, len(all))
	for _, p := range all {
		if p.ID == excludeID || p.InMatch {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Invite 發出邀請
func (l *Lobby) Invite(fromID, toID string) error {
	if fromID == toID {
		return apperrors.ErrInvalidInput.WithDetails("cannot invite yourself")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.players[fromID]; !ok {
		return apperrors.ErrNotFound.WithDetails("player %s", fromID)
	}
	if _, ok := l.players[toID]; !ok {
		return apperrors.ErrNotFound.WithDetails("player %s", toID)
	}
	for _, id := range []string{fromID, toID} {
		if l.matches.IsPlayerBusy(id) {
			return apperrors.ErrPlayerInMatch.WithDetails("%s", id)
		}
	}

	if l.invites[toID] == nil {
		l.invites[toID] = make(map[string]time.Time)
	}
	l.invites[toID][fromID] = time.Now()

	l.logger.Debug("邀請已送出", "from", fromID, "to", toID)
	return nil
}

// PendingInvites 玩家收到、尚未回覆的邀請（依邀請者 ID 排序）
func (l *Lobby) PendingInvites(playerID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.invites[playerID]))
	for inviter := range l.invites[playerID] {
		out = append(out, inviter)
	}
	sort.Strings(out)
	return out
}

// Respond 回覆邀請；接受時建立對局（inviter 為第一位玩家）
//
// 拒絕時回傳 (nil, nil)。
func (l *Lobby) Respond(inviteeID, inviterID string, accept bool) (*match.Match, error) {
	l.mu.Lock()
	if _, ok := l.invites[inviteeID][inviterID]; !ok {
		l.mu.Unlock()
		return nil, apperrors.ErrNotFound.WithDetails("no invitation from %s", inviterID)
	}
	delete(l.invites[inviteeID], inviterID)
	if len(l.invites[inviteeID]) == 0 {
		delete(l.invites, inviteeID)
	}
	_, inviterOnline := l.players[inviterID]
	l.mu.Unlock()

	if !accept {
		l.logger.Debug("邀請被拒絕", "from", inviterID, "to", inviteeID)
		return nil, nil
	}
	if !inviterOnline {
		return nil, apperrors.ErrNotFound.WithDetails("player %s left", inviterID)
	}

	m, err := l.matches.CreateMatch(inviterID, inviteeID)
	if err != nil {
		return nil, err
	}

	// 兩人都進入對局，其他邀請作廢
	l.mu.Lock()
	delete(l.invites, inviteeID)
	delete(l.invites, inviterID)
	l.mu.Unlock()

	return m, nil
}
