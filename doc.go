// Package navalbattle 是一個由伺服器裁決的雙人回合制海戰對戰引擎。
//
// 兩位玩家經由 WebSocket 連線，在大廳註冊暱稱、互相邀請，
// 各自在私有棋盤上佈陣，然後輪流向對方棋盤開火，直到一方艦隊全部沉沒。
// 所有判定（佈陣合法性、輪次、命中、勝負、逾時）都在伺服器端完成。
//
// # 對局狀態機
//
//	AwaitingPlacement ──一方佈陣完成──▶ AwaitingOpponentPlacement
//	                                         │ 另一方也完成
//	                                         ▼
//	                    ┌──────────── InProgress ◀─┐ 射擊 / 逾時換手
//	                    │                    └─────┘
//	          艦隊全滅 / 棄權 / 斷線
//	                    ▼
//	                 Finished（終態）
//
// 並發設計
//
// 每場對局一把互斥鎖，射擊與逾時在同一把鎖內全序；
// 回合計時器以世代號碼（generation）讓過期的逾時回調自動失效。
// 對局登記表用一把 RWMutex 同時保護 matchID → Match 與 playerID → matchID 兩張表，
// 玩家永遠不會被看到「在對局中」卻找不到對局。
//
// 架構設計
//
//   - internal/board：座標、艦艇、棋盤、艦隊清單
//   - internal/match：對局狀態機、回合計時器、對外事件 channel
//   - internal/registry：對局登記表、回收與關機收尾
//   - internal/shot：射擊控制器，把請求轉成結果標籤
//   - internal/lobby：暱稱註冊（記憶體或 Redis）、邀請
//   - internal/protocol：訊息詞彙
//   - internal/eventbus：把對局事件發布到 NATS
//   - internal/server：WebSocket Hub、訊息分派、營運 HTTP API
//   - internal/config：YAML 配置與環境變數
//
// 使用範例
//
// 啟動服務器：
//
//	go run ./cmd/server -config config.yaml
//
// 客戶端訊息（JSON）：
//
//	{"type":"register","data":{"name":"alice"}}
//	{"type":"invite","data":{"player_id":"<bob 的 ID>"}}
//	{"type":"submit_layout","data":{"ships":[{"type":"boat","origin":{"x":5,"y":5},"orientation":"horizontal"}, ...]}}
//	{"type":"fire","data":{"coord":"B7"}}
//
// 配置選項
//
// 環境變數優先於 YAML：
//   - HTTP_PORT：服務監聽端口（預設 8080）
//   - LOG_LEVEL：日誌級別（debug/info/warn/error）
//   - NATS_URL：事件匯流排位址（留空不發布）
//   - REDIS_ADDR：Redis 位址（lobby.name_store 為 redis 時使用）
package navalbattle
