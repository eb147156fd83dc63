// Package eventbus 把對局事件廣播到 NATS，供其他服務（統計、回放、通知）訂閱
//
// 系統設計考量：
//
//  1. 為什麼用 Core NATS 而非 JetStream？
//     對局事件只是旁路觀察，不影響遊戲結果；
//     fire-and-forget 不會拖慢對局的事件迴圈
//
//  2. Subject 設計：
//     <prefix>.<match_id>.<type>
//     訂閱 naval.match.*.match_finished 即可只拿結束事件
//
//  3. 沒有設定 NATS 時使用 NopPublisher，伺服器照常運作
package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/koopa0/system-design/14-naval-battle/internal/match"
	"github.com/koopa0/system-design/14-naval-battle/internal/protocol"
)

// DefaultSubjectPrefix 預設 subject 前綴
const DefaultSubjectPrefix = "naval.match"

// Publisher 事件發布者
type Publisher interface {
	Publish(ev match.Event) error
	Close()
}

// Envelope 發布到匯流排上的事件
type Envelope struct {
	MatchID   string        `json:"match_id"`
	Type      protocol.Type `json:"type"`
	To        []string      `json:"to"`
	Data      any           `json:"data,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Subject 組出事件的 subject
func Subject(prefix, matchID string, t protocol.Type) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	// NATS subject 以 . 分段，ID 中的 . 和空白會破壞層級
	id := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(matchID)
	return fmt.Sprintf("%s.%s.%s", prefix, id, t)
}

// Config NATS 連線設定
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// NATSPublisher 以 Core NATS 發布事件
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect 連線到 NATS
//
// 選項：
//   - MaxReconnects(-1)：無限重連
//   - ReconnectWait(1s)：重連間隔
//   - PingInterval(20s)：心跳檢測
func Connect(cfg Config, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "naval-battle"
	}

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return NewNATSPublisher(conn, cfg.SubjectPrefix, logger), nil
}

// NewNATSPublisher 以既有連線創建發布者
func NewNATSPublisher(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Publish 實現 Publisher
func (p *NATSPublisher) Publish(ev match.Event) error {
	data, err := json.Marshal(Envelope{
		MatchID:   ev.MatchID,
		Type:      ev.Message.Type,
		To:        ev.To,
		Data:      ev.Message.Data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	subject := Subject(p.prefix, ev.MatchID, ev.Message.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain 失敗", "error", err)
		p.conn.Close()
	}
}

// NopPublisher 不發布任何東西
type NopPublisher struct{}

// Publish 實現 Publisher
func (NopPublisher) Publish(match.Event) error { return nil }

// Close 實現 Publisher
func (NopPublisher) Close() {}
