// Package shot 把「玩家 + 射擊請求」轉成對局狀態機呼叫與結果標籤
//
// Controller 不持有任何遊戲狀態：計時器的暫停與恢復、換手都由 Match 負責，
// 這裡只做查找、委派與錯誤分類。
package shot

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/koopa0/system-design/14-naval-battle/internal/board"
	"github.com/koopa0/system-design/14-naval-battle/internal/match"
	"github.com/koopa0/system-design/14-naval-battle/internal/protocol"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// Label 射擊結果標籤
type Label string

const (
	LabelMiss               Label = "miss"
	LabelHit                Label = "hit"
	LabelSunk               Label = "sunk"
	LabelMatchWon           Label = "match_won"
	LabelNotYourTurn        Label = "not_your_turn"
	LabelInvalidCoordinate  Label = "invalid_coordinate"
	LabelAlreadyFired       Label = "already_fired"
	LabelMatchNotInProgress Label = "match_not_in_progress"
	LabelMatchFinished      Label = "match_finished"
	LabelNoMatch            Label = "no_match"
	LabelNotAParticipant    Label = "not_a_participant"
	LabelError              Label = "error"
)

// Rejected 是否為被拒絕的射擊
func (l Label) Rejected() bool {
	switch l {
	case LabelMiss, LabelHit, LabelSunk, LabelMatchWon:
		return false
	}
	return true
}

// MatchFinder 依玩家查找對局（由 registry.Registry 實現）
type MatchFinder interface {
	GetMatchForPlayer(playerID string) (*match.Match, error)
}

// Result 一次射擊請求的處理結果
type Result struct {
	Label   Label
	Outcome match.ShotOutcome
	MatchID string
	Err     error
}

// String 可讀的結果描述
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Label, r.Err)
	}
	coord := r.Outcome.Coordinate.String()
	switch r.Label {
	case LabelMiss:
		return fmt.Sprintf("%s: miss", coord)
	case LabelHit:
		return fmt.Sprintf("%s: hit %s", coord, r.Outcome.ShipType)
	case LabelSunk:
		return fmt.Sprintf("%s: %s sunk", coord, r.Outcome.ShipType)
	case LabelMatchWon:
		return fmt.Sprintf("%s: %s sunk, %s wins", coord, r.Outcome.ShipType, r.Outcome.Shooter)
	}
	return string(r.Label)
}

// Controller 射擊控制器
type Controller struct {
	matches MatchFinder
	logger  *slog.Logger
}

// NewController 創建射擊控制器
func NewController(matches MatchFinder, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{matches: matches, logger: logger}
}

// ProcessShot 處理一次射擊
func (c *Controller) ProcessShot(playerID string, coord board.Coordinate) Result {
	m, err := c.matches.GetMatchForPlayer(playerID)
	if err != nil {
		return Result{Label: LabelNoMatch, Err: err}
	}

	out, err := m.SubmitShot(playerID, coord)
	if err != nil {
		res := Result{Label: Classify(err), MatchID: m.ID(), Err: err}
		c.logger.Debug("shot rejected",
			"match_id", m.ID(),
			"player_id", playerID,
			"coord", coord.String(),
			"label", res.Label,
		)
		return res
	}

	return Result{Label: labelFor(out.Result), Outcome: out, MatchID: m.ID()}
}

// ProcessFire 解析線路上的射擊請求後處理
func (c *Controller) ProcessFire(playerID string, req protocol.FireRequest) Result {
	coord, err := req.Coordinate()
	if err != nil {
		return Result{Label: LabelInvalidCoordinate, Err: err}
	}
	return c.ProcessShot(playerID, coord)
}

func labelFor(r match.Result) Label {
	switch r {
	case match.ResultHit:
		return LabelHit
	case match.ResultHitAndSunk:
		return LabelSunk
	case match.ResultMatchWon:
		return LabelMatchWon
	default:
		return LabelMiss
	}
}

// Classify 把對局錯誤對應到標籤
func Classify(err error) Label {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperrors.ErrNotYourTurn):
		return LabelNotYourTurn
	case errors.Is(err, apperrors.ErrInvalidCoordinate), errors.Is(err, apperrors.ErrOutOfBounds):
		return LabelInvalidCoordinate
	case errors.Is(err, apperrors.ErrAlreadyFired):
		return LabelAlreadyFired
	case errors.Is(err, apperrors.ErrMatchFinished):
		return LabelMatchFinished
	case errors.Is(err, apperrors.ErrMatchNotInProgress):
		return LabelMatchNotInProgress
	case errors.Is(err, apperrors.ErrNotAParticipant):
		return LabelNotAParticipant
	case apperrors.IsNotFound(err):
		return LabelNoMatch
	default:
		return LabelError
	}
}
