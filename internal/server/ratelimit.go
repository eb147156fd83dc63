package server

import (
	"sync"
	"time"
)

// TokenBucket 每條連線一個的令牌桶
//
// 演算法：
//  1. 固定容量的桶，以固定速率補充令牌
//  2. 每收到一個訊息框取出一個令牌
//  3. 桶空時拒絕（回覆 RATE_LIMITED，訊息丟棄）
//
// 容量決定可容忍的突發（連續佈陣 + 射擊），速率決定長期上限。
type TokenBucket struct {
	capacity   int64 // 桶容量
	tokens     int64 // 當前令牌數
	refillRate int64 // 每秒補充令牌數
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 創建令牌桶（初始為滿）
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow 嘗試取出一個令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	tokensToAdd := int64(elapsed.Seconds() * float64(tb.refillRate))

	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Tokens 當前令牌數（用於監控）
func (tb *TokenBucket) Tokens() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.tokens
}
