package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-naval-battle/internal/protocol"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// Client 一條 WebSocket 連線
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *TokenBucket

	mu       sync.Mutex
	playerID string
	lastPong time.Time
	closed   bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.opts.SendBuffer),
		limiter:  NewTokenBucket(hub.opts.RateBurst, hub.opts.RatePerSecond),
		lastPong: time.Now(),
	}
}

// PlayerID 註冊後的玩家 ID，未註冊為空字串
func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Client) setPlayerID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = id
}

// enqueue 非阻塞放入發送緩衝；緩衝滿或已關閉回傳 false
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend 關閉發送緩衝，writePump 隨後送出 close frame（冪等）
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// reply 回覆這條連線
func (c *Client) reply(msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("序列化訊息失敗", "error", err, "type", msg.Type)
		return
	}
	if !c.enqueue(data) {
		c.hub.logger.Warn("連接緩衝區滿", "player_id", c.PlayerID())
	}
}

// replyError 以 error 訊息回覆
func (c *Client) replyError(err error) {
	c.reply(protocol.ErrorMessage(err))
}

// readPump 讀取客戶端訊息
//
// 心跳（讀取端）：PongWait 內沒有收到任何訊息（含 Pong）就關閉連線；
// 每次收到 Pong 延長期限。writePump 以 PingPeriod（< PongWait）送出 Ping。
func (c *Client) readPump() {
	opts := c.hub.opts
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(opts.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤", "error", err, "player_id", c.PlayerID())
			}
			return
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(opts.PongWait)); err != nil {
			c.hub.logger.Error("設置讀取期限失敗", "error", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			c.replyError(apperrors.ErrRateLimited)
			continue
		}
		c.hub.dispatch(c, message)
	}
}

// writePump 把發送緩衝寫到連線上，並定期送出 Ping
func (c *Client) writePump() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試送出 close frame（連線可能已斷，忽略錯誤）
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量送出已排隊的訊息
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.hub.logger.Error("發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
