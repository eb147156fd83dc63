// Package registry 管理進程內所有進行中的對局
//
// 系統設計問題：
//
//	如何保證一位玩家同時最多只在一場對局中，且查詢永遠看到一致的映射？
//
// 核心挑戰：
//  1. 兩張表（matchID → Match、playerID → matchID）必須一起更新
//  2. 不能讓無關的對局互相阻塞
//  3. 結束的對局要有人回收；關機時要有人收尾
//
// 設計方案：
//
//	✅ 兩張表共用一把 RWMutex，所有寫入在同一個臨界區完成
//	✅ 對局自己的狀態由對局自己的鎖保護，登記表只管映射
//	✅ 背景 reaper 定期移除已結束超過寬限期的對局
//	✅ Stop() 以 shutdown 原因結束所有對局並關閉事件 channel
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-naval-battle/internal/match"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// Options 登記表參數
type Options struct {
	Match        match.Options
	ReapGrace    time.Duration // 結束後保留多久才回收
	ReapInterval time.Duration // reaper 週期；<= 0 表示不啟動
	Logger       *slog.Logger
}

// Registry 對局登記表
type Registry struct {
	matches     map[string]*match.Match // matchID -> Match
	playerMatch map[string]string       // playerID -> matchID
	mu          sync.RWMutex

	opts   Options
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New 創建登記表並啟動 reaper
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Match.Logger == nil {
		opts.Match.Logger = opts.Logger
	}

	r := &Registry{
		matches:     make(map[string]*match.Match),
		playerMatch: make(map[string]string),
		opts:        opts,
		logger:      opts.Logger,
		stopCh:      make(chan struct{}),
	}

	if opts.ReapInterval > 0 {
		r.wg.Add(1)
		go r.reapLoop()
	}

	return r
}

// CreateMatch 為兩位玩家建立對局
//
// 任一玩家仍在未結束的對局中則失敗；若只是掛著一場已結束、
// 尚未回收的對局，會先把那場移除。
func (r *Registry) CreateMatch(player1, player2 string) (*match.Match, error) {
	if player1 == "" || player2 == "" || player1 == player2 {
		return nil, apperrors.ErrInvalidInput.WithDetails("a match needs two distinct players")
	}

	r.mu.Lock()
	var released []*match.Match
	for _, id := range []string{player1, player2} {
		matchID, ok := r.playerMatch[id]
		if !ok {
			continue
		}
		existing := r.matches[matchID]
		if existing != nil && !existing.IsFinished() {
			r.mu.Unlock()
			return nil, apperrors.ErrPlayerInMatch.WithDetails("%s is in match %s", id, matchID)
		}
	}
	for _, id := range []string{player1, player2} {
		if matchID, ok := r.playerMatch[id]; ok {
			if m := r.removeLocked(matchID); m != nil {
				released = append(released, m)
			}
		}
	}

	m := match.New(uuid.NewString(), player1, player2, r.opts.Match)
	r.matches[m.ID()] = m
	r.playerMatch[player1] = m.ID()
	r.playerMatch[player2] = m.ID()
	r.mu.Unlock()

	for _, old := range released {
		old.Close()
	}

	r.logger.Info("對局已建立", "match_id", m.ID(), "player1", player1, "player2", player2)
	return m, nil
}

// GetMatch 依 ID 取得對局
func (r *Registry) GetMatch(matchID string) (*match.Match, error) {
	r.mu.RLock()
	m, ok := r.matches[matchID]
	r.mu.RUnlock()

	if !ok {
		return nil, apperrors.ErrMatchNotFound.WithDetails("%s", matchID)
	}
	return m, nil
}

// GetMatchForPlayer 取得玩家所在的對局
func (r *Registry) GetMatchForPlayer(playerID string) (*match.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matchID, ok := r.playerMatch[playerID]
	if !ok {
		return nil, apperrors.ErrMatchNotFound.WithDetails("no match for player %s", playerID)
	}
	return r.matches[matchID], nil
}

// IsPlayerInMatch 玩家是否登記在某場對局中（包含已結束、尚未回收的）
func (r *Registry) IsPlayerInMatch(playerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.playerMatch[playerID]
	return ok
}

// IsPlayerBusy 玩家是否在一場未結束的對局中
func (r *Registry) IsPlayerBusy(playerID string) bool {
	r.mu.RLock()
	matchID, ok := r.playerMatch[playerID]
	m := r.matches[matchID]
	r.mu.RUnlock()

	return ok && m != nil && !m.IsFinished()
}

// RemoveMatch 移除對局與雙方玩家映射（冪等），並關閉對局
func (r *Registry) RemoveMatch(matchID string) {
	r.mu.Lock()
	m := r.removeLocked(matchID)
	r.mu.Unlock()

	if m == nil {
		return
	}
	m.Close()
	r.logger.Info("對局已移除", "match_id", matchID)
}

func (r *Registry) removeLocked(matchID string) *match.Match {
	m, ok := r.matches[matchID]
	if !ok {
		return nil
	}
	for _, id := range m.Players() {
		if r.playerMatch[id] == matchID {
			delete(r.playerMatch, id)
		}
	}
	delete(r.matches, matchID)
	return m
}

// CountMatches 登記中的對局數
func (r *Registry) CountMatches() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// ListMatches 所有登記中的對局（依建立時間排序）
func (r *Registry) ListMatches() []*match.Match {
	r.mu.RLock()
	out := make([]*match.Match, 0, len(r.matches))
	for _, m := range r.matches {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

// Stats 統計資訊
func (r *Registry) Stats() map[string]any {
	matches := r.ListMatches()

	byState := make(map[match.State]int)
	for _, m := range matches {
		byState[m.State()]++
	}

	r.mu.RLock()
	players := len(r.playerMatch)
	r.mu.RUnlock()

	return map[string]any{
		"total_matches": len(matches),
		"total_players": players,
		"by_state":      byState,
	}
}

// reapLoop 定期回收已結束的對局
func (r *Registry) reapLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			r.Reap(now)
		case <-r.stopCh:
			return
		}
	}
}

// Reap 移除在 now 之前已結束超過寬限期的對局，回傳移除數量
func (r *Registry) Reap(now time.Time) int {
	var expired []string
	for _, m := range r.ListMatches() {
		finishedAt := m.FinishedAt()
		if finishedAt.IsZero() {
			continue
		}
		if now.Sub(finishedAt) >= r.opts.ReapGrace {
			expired = append(expired, m.ID())
		}
	}

	for _, id := range expired {
		r.RemoveMatch(id)
	}
	if len(expired) > 0 {
		r.logger.Debug("已回收結束的對局", "count", len(expired))
	}
	return len(expired)
}

// Stop 停止 reaper，並以 shutdown 結束所有對局
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()

	r.mu.Lock()
	all := make([]*match.Match, 0, len(r.matches))
	for _, m := range r.matches {
		all = append(all, m)
	}
	r.matches = make(map[string]*match.Match)
	r.playerMatch = make(map[string]string)
	r.mu.Unlock()

	aborted := 0
	for _, m := range all {
		if m.Abort(match.ReasonShutdown) {
			aborted++
		}
		m.Close()
	}

	r.logger.Info("對局登記表已停止", "matches", len(all), "aborted", aborted)
}
