// Package config 載入伺服器配置
//
// 來源優先順序：環境變數 > YAML 檔 > Default()。
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/koopa0/system-design/14-naval-battle/internal/board"
	"github.com/koopa0/system-design/14-naval-battle/internal/eventbus"
	"github.com/koopa0/system-design/14-naval-battle/internal/match"
	"github.com/koopa0/system-design/14-naval-battle/internal/registry"
	"github.com/koopa0/system-design/14-naval-battle/internal/server"
	"github.com/koopa0/system-design/14-naval-battle/pkg/logger"
)

// Config 整個應用的配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Game      GameConfig      `yaml:"game"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Lobby     LobbyConfig     `yaml:"lobby"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig HTTP 服務配置
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GameConfig 對局規則
type GameConfig struct {
	BoardSize              int            `yaml:"board_size"`
	Fleet                  board.Manifest `yaml:"fleet"`
	TurnDuration           time.Duration  `yaml:"turn_duration"`
	ExtraShotOnHit         bool           `yaml:"extra_shot_on_hit"`
	FirstTurn              string         `yaml:"first_turn"`               // first_placed 或 player_one
	MaxConsecutiveTimeouts int            `yaml:"max_consecutive_timeouts"` // 0 = 停用
	EventBuffer            int            `yaml:"event_buffer"`
	ReapGrace              time.Duration  `yaml:"reap_grace"`
	ReapInterval           time.Duration  `yaml:"reap_interval"`
}

// WebSocketConfig 連線配置
type WebSocketConfig struct {
	ReadBufferSize     int           `yaml:"read_buffer_size"`
	WriteBufferSize    int           `yaml:"write_buffer_size"`
	MaxMessageSize     int64         `yaml:"max_message_size"`
	SendBuffer         int           `yaml:"send_buffer"`
	RateBurst          int64         `yaml:"rate_burst"`      // 令牌桶容量
	RatePerSecond      int64         `yaml:"rate_per_second"` // 每秒補充令牌數
	TimeUpdateInterval time.Duration `yaml:"time_update_interval"`
}

// LobbyConfig 大廳配置
type LobbyConfig struct {
	NameStore string        `yaml:"name_store"` // memory 或 redis
	NameTTL   time.Duration `yaml:"name_ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// RedisConfig Redis 連線配置
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// NATSConfig 事件匯流排配置；URL 為空時不發布
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// Default 返回預設配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Game: GameConfig{
			BoardSize:    board.DefaultSize,
			Fleet:        board.DefaultManifest(),
			TurnDuration: 30 * time.Second,
			FirstTurn:    string(match.FirstPlaced),
			EventBuffer:  256,
			ReapGrace:    30 * time.Second,
			ReapInterval: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:     1024,
			WriteBufferSize:    1024,
			MaxMessageSize:     4096,
			SendBuffer:         256,
			RateBurst:          20,
			RatePerSecond:      10,
			TimeUpdateInterval: time.Second,
		},
		Lobby: LobbyConfig{
			NameStore: "memory",
			NameTTL:   24 * time.Hour,
			KeyPrefix: "naval:names",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		NATS: NATSConfig{
			SubjectPrefix: eventbus.DefaultSubjectPrefix,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load 讀取 YAML 配置並套用環境變數
//
// path 為空時只使用預設值與環境變數。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - 路徑來自命令列參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// 艦隊清單整份取代預設值，而不是逐鍵合併
		cfg.Game.Fleet = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if cfg.Game.Fleet == nil {
			cfg.Game.Fleet = board.DefaultManifest()
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變數覆蓋（容器部署常用）
func (c *Config) applyEnv() error {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate 檢查配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Game.BoardSize < 2 || c.Game.BoardSize > board.MaxSize {
		errs = append(errs, fmt.Errorf("game.board_size must be between 2 and %d", board.MaxSize))
	} else if err := c.Game.Fleet.Validate(c.Game.BoardSize); err != nil {
		errs = append(errs, fmt.Errorf("game.fleet: %w", err))
	}
	if c.Game.TurnDuration <= 0 {
		errs = append(errs, errors.New("game.turn_duration must be positive"))
	}
	switch match.FirstTurnRule(c.Game.FirstTurn) {
	case match.FirstPlaced, match.PlayerOne:
	default:
		errs = append(errs, fmt.Errorf("game.first_turn %q must be first_placed or player_one", c.Game.FirstTurn))
	}
	if c.Game.MaxConsecutiveTimeouts < 0 {
		errs = append(errs, errors.New("game.max_consecutive_timeouts must not be negative"))
	}
	if c.WebSocket.RateBurst <= 0 || c.WebSocket.RatePerSecond <= 0 {
		errs = append(errs, errors.New("websocket rate limit must be positive"))
	}
	switch c.Lobby.NameStore {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("lobby.name_store %q must be memory or redis", c.Lobby.NameStore))
	}

	return errors.Join(errs...)
}

// Addr HTTP 監聽位址
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// MatchOptions 轉成對局參數
func (c *Config) MatchOptions(l *slog.Logger) match.Options {
	return match.Options{
		BoardSize:              c.Game.BoardSize,
		Manifest:               c.Game.Fleet,
		TurnDuration:           c.Game.TurnDuration,
		ExtraShotOnHit:         c.Game.ExtraShotOnHit,
		FirstTurn:              match.FirstTurnRule(c.Game.FirstTurn),
		MaxConsecutiveTimeouts: c.Game.MaxConsecutiveTimeouts,
		EventBuffer:            c.Game.EventBuffer,
		Logger:                 l,
	}
}

// RegistryOptions 轉成登記表參數
func (c *Config) RegistryOptions(l *slog.Logger) registry.Options {
	return registry.Options{
		Match:        c.MatchOptions(l),
		ReapGrace:    c.Game.ReapGrace,
		ReapInterval: c.Game.ReapInterval,
		Logger:       l,
	}
}

// HubOptions 轉成 WebSocket 連線參數
func (c *Config) HubOptions() server.Options {
	opts := server.DefaultOptions()
	opts.ReadBufferSize = c.WebSocket.ReadBufferSize
	opts.WriteBufferSize = c.WebSocket.WriteBufferSize
	opts.MaxMessageSize = c.WebSocket.MaxMessageSize
	opts.SendBuffer = c.WebSocket.SendBuffer
	opts.RateBurst = c.WebSocket.RateBurst
	opts.RatePerSecond = c.WebSocket.RatePerSecond
	opts.TimeUpdateInterval = c.WebSocket.TimeUpdateInterval
	return opts
}

// LoggerOptions 轉成日誌參數
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		Output:    c.Log.Output,
		AddSource: c.Log.AddSource,
	}
}

// EventBusConfig 轉成事件匯流排參數
func (c *Config) EventBusConfig() eventbus.Config {
	return eventbus.Config{
		URL:           c.NATS.URL,
		SubjectPrefix: c.NATS.SubjectPrefix,
	}
}
