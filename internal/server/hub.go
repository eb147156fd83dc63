// Package server 是對戰引擎的傳輸層：WebSocket 連線、訊息分派與營運 HTTP API
//
// 系統設計問題：
//
//	如何把每場對局產生的事件，準確送到兩位玩家各自的連線上？
//
// 核心挑戰：
//  1. 連線匿名建立，註冊後才知道是哪位玩家
//  2. 每場對局有自己的事件 channel，不能讓慢連線拖住對局
//  3. 斷線必須立即讓對局以 disconnect 結束
//  4. 剩餘時間要定期推送，但不能為每場對局開一個 ticker
//
// 設計方案：
//
//	✅ Hub 模式：playerID → Client，註冊成功時綁定
//	✅ 每場對局一個 pump goroutine，讀事件、寫入收件者的 Send 緩衝
//	✅ Ping/Pong 心跳（54s/60s）偵測死連線
//	✅ 單一 ticker 掃描所有進行中的對局推送 time_remaining
//	✅ 每條連線一個令牌桶，超量訊息直接拒絕
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-naval-battle/internal/eventbus"
	"github.com/koopa0/system-design/14-naval-battle/internal/lobby"
	"github.com/koopa0/system-design/14-naval-battle/internal/match"
	"github.com/koopa0/system-design/14-naval-battle/internal/protocol"
	"github.com/koopa0/system-design/14-naval-battle/internal/registry"
	"github.com/koopa0/system-design/14-naval-battle/internal/shot"
	"github.com/koopa0/system-design/14-naval-battle/pkg/logger"
)

// Options 連線參數
type Options struct {
	ReadBufferSize     int
	WriteBufferSize    int
	MaxMessageSize     int64
	SendBuffer         int
	RateBurst          int64
	RatePerSecond      int64
	TimeUpdateInterval time.Duration // <= 0 表示不推送剩餘時間

	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
}

// DefaultOptions 預設連線參數
func DefaultOptions() Options {
	return Options{
		ReadBufferSize:     1024,
		WriteBufferSize:    1024,
		MaxMessageSize:     4096,
		SendBuffer:         256,
		RateBurst:          20,
		RatePerSecond:      10,
		TimeUpdateInterval: time.Second,
		PingPeriod:         54 * time.Second,
		PongWait:           60 * time.Second,
		WriteWait:          10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = d.WriteBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.RateBurst <= 0 {
		o.RateBurst = d.RateBurst
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = d.RatePerSecond
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = d.PingPeriod
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	return o
}

// Hub WebSocket 連接中心
//
// 鎖順序：Hub.mu 只保護 Hub 自己的 map，持有時不呼叫 lobby、registry 或 match。
type Hub struct {
	registry  *registry.Registry
	lobby     *lobby.Lobby
	shots     *shot.Controller
	publisher eventbus.Publisher
	opts      Options
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	clients map[string]*Client   // playerID -> Client（已註冊）
	conns   map[*Client]struct{} // 所有連線（含未註冊）
	watched map[string]struct{}  // 已有 pump 的對局
	stopped bool
	mu      sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub 創建 Hub 並啟動剩餘時間推送
func NewHub(reg *registry.Registry, lob *lobby.Lobby, pub eventbus.Publisher, opts Options, logger *slog.Logger) *Hub {
	if pub == nil {
		pub = eventbus.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	hub := &Hub{
		registry:  reg,
		lobby:     lob,
		shots:     shot.NewController(reg, logger),
		publisher: pub,
		opts:      opts,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
		},
		clients: make(map[string]*Client),
		conns:   make(map[*Client]struct{}),
		watched: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}

	if opts.TimeUpdateInterval > 0 {
		hub.wg.Add(1)
		go hub.timeLoop()
	}

	return hub
}

// ServeWS 升級 HTTP 連線；玩家在連線上送 register 後才有身分
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-hub.stopCh:
		http.Error(w, "伺服器關閉中", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	client := newClient(hub, conn)

	hub.mu.Lock()
	hub.conns[client] = struct{}{}
	hub.mu.Unlock()

	go client.writePump()
	go client.readPump()

	hub.logger.Debug("WebSocket 連接建立", "remote", conn.RemoteAddr().String())
}

// bind 註冊成功後以玩家 ID 索引連線
func (hub *Hub) bind(playerID string, c *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.clients[playerID] = c
}

// disconnect 連線結束：對局判負、離開大廳、通知受影響的邀請對象
func (hub *Hub) disconnect(c *Client) {
	playerID := c.PlayerID()

	hub.mu.Lock()
	delete(hub.conns, c)
	if playerID != "" && hub.clients[playerID] == c {
		delete(hub.clients, playerID)
	}
	hub.mu.Unlock()

	c.closeSend()

	if playerID == "" {
		return
	}
	hub.releasePlayer(playerID)
}

// releasePlayer 斷線玩家的對局以 disconnect 結束，並撤銷他的邀請
func (hub *Hub) releasePlayer(playerID string) {
	ctx := logger.WithPlayerID(context.Background(), playerID)

	if m, err := hub.registry.GetMatchForPlayer(playerID); err == nil {
		if err := m.Forfeit(playerID, match.ReasonDisconnect); err == nil {
			hub.logger.InfoContext(ctx, "玩家斷線，對局判負", "match_id", m.ID())
		}
	}

	affected := hub.lobby.Unregister(ctx, playerID)
	for _, id := range affected {
		hub.sendMessage(id, protocol.Message{
			Type: protocol.TypeMatchCanceled,
			Data: protocol.MatchCanceledPayload{PlayerID: playerID, Reason: string(match.ReasonDisconnect)},
		})
	}

	hub.logger.InfoContext(ctx, "WebSocket 連接關閉", "canceled_invites", len(affected))
}

// watch 為對局啟動事件 pump（同一場只啟動一次）
func (hub *Hub) watch(m *match.Match) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return
	}
	if _, ok := hub.watched[m.ID()]; ok {
		return
	}
	hub.watched[m.ID()] = struct{}{}

	hub.wg.Add(1)
	go hub.pump(m)
}

// pump 轉送對局事件，直到對局關閉事件 channel
func (hub *Hub) pump(m *match.Match) {
	defer hub.wg.Done()
	defer func() {
		hub.mu.Lock()
		delete(hub.watched, m.ID())
		hub.mu.Unlock()
	}()

	events := m.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			hub.deliver(ev)
		case <-hub.stopCh:
			// 把已緩衝的事件（例如 shutdown 的結束通知）送完
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					hub.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver 送給收件者並發布到事件匯流排
func (hub *Hub) deliver(ev match.Event) {
	data, err := json.Marshal(ev.Message)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "type", ev.Message.Type)
		return
	}
	for _, id := range ev.To {
		hub.send(id, data)
	}

	if err := hub.publisher.Publish(ev); err != nil {
		hub.logger.Warn("發布事件失敗", "error", err, "match_id", ev.MatchID, "type", ev.Message.Type)
	}
}

// timeLoop 定期推送剩餘時間
func (hub *Hub) timeLoop() {
	defer hub.wg.Done()

	ticker := time.NewTicker(hub.opts.TimeUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hub.broadcastTimeRemaining()
		case <-hub.stopCh:
			return
		}
	}
}

// broadcastTimeRemaining 對每場進行中的對局推送一次剩餘時間
func (hub *Hub) broadcastTimeRemaining() {
	for _, m := range hub.registry.ListMatches() {
		msg, to, ok := m.TimeRemainingMessage()
		if !ok {
			continue
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		for _, id := range to {
			hub.send(id, data)
		}
	}
}

// send 把已編碼的訊息放進玩家的發送緩衝；玩家不在線時略過
func (hub *Hub) send(playerID string, data []byte) {
	hub.mu.RLock()
	c := hub.clients[playerID]
	hub.mu.RUnlock()

	if c == nil {
		return
	}
	if !c.enqueue(data) {
		hub.logger.Warn("連接緩衝區滿", "player_id", playerID)
	}
}

// sendMessage 編碼後送給玩家
func (hub *Hub) sendMessage(playerID string, msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		hub.logger.Error("序列化訊息失敗", "error", err, "type", msg.Type)
		return
	}
	hub.send(playerID, data)
}

// ConnectionCount 目前連線數（含未註冊）
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// PlayerConnected 玩家是否在線
func (hub *Hub) PlayerConnected(playerID string) bool {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	_, ok := hub.clients[playerID]
	return ok
}

// Stop 停止 Hub
//
// 應在 registry.Stop() 之後呼叫，讓 shutdown 的結束通知先送到客戶端。
func (hub *Hub) Stop() {
	hub.stopOnce.Do(func() {
		hub.mu.Lock()
		hub.stopped = true
		hub.mu.Unlock()
		close(hub.stopCh)
	})
	hub.wg.Wait()

	hub.mu.Lock()
	conns := make([]*Client, 0, len(hub.conns))
	for c := range hub.conns {
		conns = append(conns, c)
	}
	hub.conns = make(map[*Client]struct{})
	hub.clients = make(map[string]*Client)
	hub.mu.Unlock()

	for _, c := range conns {
		c.closeSend()
	}

	hub.logger.Info("WebSocket Hub 已停止", "connections", len(conns))
}
