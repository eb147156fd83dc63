package match

import (
	"sync"
	"time"
)

// timerState 計時器狀態
type timerState int

const (
	timerIdle     timerState = iota // 未啟動或逾時已被處理
	timerRunning                    // 倒數中
	timerPaused                     // 暫停（射擊判定中）
	timerExpired                    // 已到期，等待 Match 處理
	timerCanceled                   // 已取消，不再啟動
)

// TurnTimer 每局一個的回合倒數計時器
//
// 系統設計考量：
//
//  1. 世代號（generation）：
//     問題：time.AfterFunc 的回調可能已經在路上，Stop 攔不住
//     方案：每次 Start / Pause / Cancel 都遞增世代號，
//     回調帶著啟動時的世代號，過期的回調一律丟棄
//
//  2. 兩段式到期：
//     fire() 只把狀態改成 expired 並通知 Match；
//     Match 拿到自己的鎖之後再呼叫 consume() 確認，
//     確保同一次到期最多被處理一次
//
//  3. 暫停：
//     射擊判定期間凍結剩餘時間，判定延遲不算在玩家頭上
type TurnTimer struct {
	mu        sync.Mutex
	duration  time.Duration
	remaining time.Duration
	deadline  time.Time
	timer     *time.Timer
	gen       uint64
	state     timerState
	onExpire  func(gen uint64)
}

// NewTurnTimer 創建計時器（尚未啟動）
func NewTurnTimer(duration time.Duration, onExpire func(gen uint64)) *TurnTimer {
	return &TurnTimer{
		duration: duration,
		onExpire: onExpire,
	}
}

// Duration 完整回合長度
func (t *TurnTimer) Duration() time.Duration {
	return t.duration
}

// Start 以指定剩餘時間開始倒數，回傳新的世代號
func (t *TurnTimer) Start(remaining time.Duration) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startLocked(remaining)
}

// Restart 以完整回合長度重新開始
func (t *TurnTimer) Restart() uint64 {
	return t.Start(t.duration)
}

// Pause 凍結剩餘時間；只有倒數中才有效
func (t *TurnTimer) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != timerRunning {
		return false
	}
	t.stopLocked()
	t.remaining = max(time.Until(t.deadline), 0)
	t.state = timerPaused
	t.gen++
	return true
}

// Resume 從暫停處繼續；不在暫停狀態時不做任何事
func (t *TurnTimer) Resume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != timerPaused {
		return false
	}
	t.startLocked(t.remaining)
	return true
}

// Cancel 永久停止計時器
func (t *TurnTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.state = timerCanceled
	t.remaining = 0
	t.gen++
}

// Remaining 目前剩餘時間
func (t *TurnTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case timerRunning:
		return max(time.Until(t.deadline), 0)
	case timerPaused:
		return t.remaining
	default:
		return 0
	}
}

// Generation 目前世代號
func (t *TurnTimer) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

func (t *TurnTimer) startLocked(remaining time.Duration) uint64 {
	if t.state == timerCanceled {
		return t.gen
	}
	t.stopLocked()
	t.gen++
	gen := t.gen
	t.remaining = remaining
	t.deadline = time.Now().Add(remaining)
	t.state = timerRunning
	t.timer = time.AfterFunc(remaining, func() { t.fire(gen) })
	return gen
}

func (t *TurnTimer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// fire time.AfterFunc 的回調
func (t *TurnTimer) fire(gen uint64) {
	if !t.expire(gen) {
		return
	}
	if t.onExpire != nil {
		t.onExpire(gen)
	}
}

// expire 把倒數中的計時器標記為到期；世代號不符時回傳 false
func (t *TurnTimer) expire(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen || t.state != timerRunning {
		return false
	}
	t.state = timerExpired
	t.timer = nil
	return true
}

// consume 確認並消耗一次到期
//
// 必須在持有 Match 鎖時呼叫。到期之後若有合法射擊已經換手
// （世代號改變），這次到期就作廢。
func (t *TurnTimer) consume(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen || t.state != timerExpired {
		return false
	}
	t.state = timerIdle
	return true
}
