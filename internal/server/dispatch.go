package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/koopa0/system-design/14-naval-battle/internal/match"
	"github.com/koopa0/system-design/14-naval-battle/internal/protocol"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
	"github.com/koopa0/system-design/14-naval-battle/pkg/logger"
)

// dispatch 解析一個訊息框並交給對應的處理器
//
// 所有拒絕都以 error 訊息回覆給發送者，不影響對局狀態。
func (hub *Hub) dispatch(c *Client, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.replyError(apperrors.ErrInvalidInput.WithDetails("malformed message"))
		return
	}

	playerID := c.PlayerID()
	if playerID == "" && env.Type != protocol.TypeRegister && env.Type != protocol.TypePing {
		c.replyError(apperrors.ErrInvalidInput.WithDetails("register first"))
		return
	}
	ctx := logger.WithPlayerID(context.Background(), playerID)

	var err error
	switch env.Type {
	case protocol.TypePing:
		c.reply(protocol.Message{Type: protocol.TypePong})
	case protocol.TypeRegister:
		err = hub.handleRegister(ctx, c, env)
	case protocol.TypeListPlayers:
		c.reply(protocol.Message{
			Type: protocol.TypePlayerList,
			Data: protocol.PlayerListPayload{Players: hub.lobby.Available(playerID)},
		})
	case protocol.TypeInvite:
		err = hub.handleInvite(playerID, env)
	case protocol.TypeInviteResponse:
		err = hub.handleInviteResponse(ctx, playerID, env)
	case protocol.TypeSubmitLayout:
		err = hub.handleLayout(playerID, env)
	case protocol.TypeFire:
		err = hub.handleFire(ctx, playerID, env)
	case protocol.TypeLeave:
		err = hub.handleLeave(ctx, playerID)
	default:
		err = apperrors.ErrInvalidInput.WithDetails("unknown message type %q", env.Type)
	}

	if err != nil {
		hub.logger.DebugContext(ctx, "請求被拒絕", "type", env.Type, "code", apperrors.CodeOf(err))
		c.replyError(err)
	}
}

// handleRegister 註冊暱稱；重複暱稱回覆 duplicate_name
func (hub *Hub) handleRegister(ctx context.Context, c *Client, env protocol.Envelope) error {
	if c.PlayerID() != "" {
		return apperrors.ErrInvalidInput.WithDetails("already registered")
	}

	var req protocol.RegisterRequest
	if err := env.Decode(&req); err != nil {
		return apperrors.ErrInvalidInput.WithDetails("malformed register request")
	}

	p, err := hub.lobby.Register(ctx, req.Name)
	if errors.Is(err, apperrors.ErrDuplicateName) {
		c.reply(protocol.Message{
			Type: protocol.TypeDuplicateName,
			Data: protocol.ErrorPayload{Code: apperrors.ErrCodeDuplicateName, Message: err.Error()},
		})
		return nil
	}
	if err != nil {
		return err
	}

	c.setPlayerID(p.ID)
	hub.bind(p.ID, c)

	c.reply(protocol.Message{
		Type: protocol.TypeRegistered,
		Data: protocol.RegisteredPayload{PlayerID: p.ID, Name: p.Name},
	})
	return nil
}

// handleInvite 轉送邀請給對方
func (hub *Hub) handleInvite(playerID string, env protocol.Envelope) error {
	var req protocol.InviteRequest
	if err := env.Decode(&req); err != nil {
		return apperrors.ErrInvalidInput.WithDetails("malformed invite")
	}
	if err := hub.lobby.Invite(playerID, req.PlayerID); err != nil {
		return err
	}

	hub.sendMessage(req.PlayerID, protocol.Message{
		Type: protocol.TypeInvitation,
		Data: protocol.InvitationPayload{PlayerID: playerID, Name: hub.playerName(playerID)},
	})
	return nil
}

// handleInviteResponse 接受時建立對局並開始轉送事件；拒絕時通知邀請者
func (hub *Hub) handleInviteResponse(ctx context.Context, playerID string, env protocol.Envelope) error {
	var req protocol.InviteResponseRequest
	if err := env.Decode(&req); err != nil {
		return apperrors.ErrInvalidInput.WithDetails("malformed invite response")
	}

	m, err := hub.lobby.Respond(playerID, req.InviterID, req.Accept)
	if err != nil {
		return err
	}
	if m == nil {
		hub.sendMessage(req.InviterID, protocol.Message{
			Type: protocol.TypeInviteRejected,
			Data: protocol.InvitationPayload{PlayerID: playerID, Name: hub.playerName(playerID)},
		})
		return nil
	}

	hub.watch(m)
	hub.logger.InfoContext(logger.WithMatchID(ctx, m.ID()), "對局開始", "inviter", req.InviterID)
	return nil
}

// handleLayout 提交佈陣
func (hub *Hub) handleLayout(playerID string, env protocol.Envelope) error {
	var req protocol.LayoutRequest
	if err := env.Decode(&req); err != nil {
		return apperrors.ErrInvalidLayout.WithDetails("malformed layout")
	}
	m, err := hub.registry.GetMatchForPlayer(playerID)
	if err != nil {
		return err
	}
	return m.SubmitPlacement(playerID, req.Ships)
}

// handleFire 射擊；結果經由對局事件送給雙方
func (hub *Hub) handleFire(ctx context.Context, playerID string, env protocol.Envelope) error {
	var req protocol.FireRequest
	if err := env.Decode(&req); err != nil {
		return apperrors.ErrInvalidCoordinate.WithDetails("malformed fire request")
	}

	res := hub.shots.ProcessFire(playerID, req)
	if res.Err != nil {
		return res.Err
	}
	hub.logger.DebugContext(logger.WithMatchID(ctx, res.MatchID), "射擊", "result", res.String())
	return nil
}

// handleLeave 主動棄權
func (hub *Hub) handleLeave(ctx context.Context, playerID string) error {
	m, err := hub.registry.GetMatchForPlayer(playerID)
	if err != nil {
		return err
	}
	if err := m.Forfeit(playerID, match.ReasonForfeit); err != nil {
		return err
	}
	hub.logger.InfoContext(logger.WithMatchID(ctx, m.ID()), "玩家棄權")
	return nil
}

func (hub *Hub) playerName(playerID string) string {
	if p, ok := hub.lobby.Get(playerID); ok {
		return p.Name
	}
	return ""
}
