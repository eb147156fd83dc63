// Package errors 提供對戰引擎的型別化錯誤
//
// 所有拒絕都以 *AppError 回傳（而非 panic 或字串比對），
// 呼叫者可以用 errors.Is 依錯誤碼分類處理。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// 驗證錯誤（棋盤 / 佈陣）
	ErrCodeOutOfBounds       = "OUT_OF_BOUNDS"
	ErrCodeOverlap           = "OVERLAP"
	ErrCodeDuplicateType     = "DUPLICATE_TYPE"
	ErrCodeInvalidShip       = "INVALID_SHIP"
	ErrCodeAlreadyFired      = "ALREADY_FIRED"
	ErrCodeInvalidLayout     = "INVALID_LAYOUT"
	ErrCodeInvalidCoordinate = "INVALID_COORDINATE"

	// 流程錯誤（狀態機）
	ErrCodeNotYourTurn          = "NOT_YOUR_TURN"
	ErrCodeMatchNotInProgress   = "MATCH_NOT_IN_PROGRESS"
	ErrCodeMatchFinished        = "MATCH_ALREADY_FINISHED"
	ErrCodeNotAwaitingPlacement = "NOT_AWAITING_PLACEMENT"
	ErrCodeNotAParticipant      = "NOT_A_PARTICIPANT"

	// 註冊表 / 大廳錯誤
	ErrCodePlayerInMatch = "PLAYER_ALREADY_IN_MATCH"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeDuplicateName = "DUPLICATE_NAME"

	// 其他
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is（以錯誤碼比對）
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳帶有詳細資訊的副本
//
// 預定義錯誤是共用的哨兵值，不能就地修改。
func (e *AppError) WithDetails(format string, args ...any) *AppError {
	cp := *e
	cp.Details = fmt.Sprintf(format, args...)
	return &cp
}

// 預定義錯誤
var (
	ErrOutOfBounds       = New(ErrCodeOutOfBounds, "coordinate out of bounds")
	ErrOverlap           = New(ErrCodeOverlap, "ship overlaps another ship")
	ErrDuplicateType     = New(ErrCodeDuplicateType, "ship type exceeds fleet manifest")
	ErrInvalidShip       = New(ErrCodeInvalidShip, "ship cells are not a contiguous run of its size")
	ErrAlreadyFired      = New(ErrCodeAlreadyFired, "coordinate already fired at")
	ErrInvalidLayout     = New(ErrCodeInvalidLayout, "invalid fleet layout")
	ErrInvalidCoordinate = New(ErrCodeInvalidCoordinate, "invalid coordinate")

	ErrNotYourTurn          = New(ErrCodeNotYourTurn, "not your turn")
	ErrMatchNotInProgress   = New(ErrCodeMatchNotInProgress, "match is not in progress")
	ErrMatchFinished        = New(ErrCodeMatchFinished, "match already finished")
	ErrNotAwaitingPlacement = New(ErrCodeNotAwaitingPlacement, "match is not awaiting placement from this player")
	ErrNotAParticipant      = New(ErrCodeNotAParticipant, "player is not part of this match")

	ErrPlayerInMatch = New(ErrCodePlayerInMatch, "player already in a match")
	ErrMatchNotFound = New(ErrCodeNotFound, "match not found")
	ErrNotFound      = New(ErrCodeNotFound, "not found")
	ErrDuplicateName = New(ErrCodeDuplicateName, "name already taken")

	ErrInvalidInput = New(ErrCodeInvalidInput, "invalid input")
	ErrRateLimited  = New(ErrCodeRateLimited, "too many messages")
)

// CodeOf 取出錯誤碼，非 AppError 一律視為內部錯誤
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsValidation 檢查是否為驗證類錯誤（座標、佈陣、重複射擊）
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case ErrCodeOutOfBounds, ErrCodeOverlap, ErrCodeDuplicateType, ErrCodeInvalidShip,
		ErrCodeAlreadyFired, ErrCodeInvalidLayout, ErrCodeInvalidCoordinate:
		return true
	}
	return false
}

// IsSequencing 檢查是否為流程類錯誤（輪次、對局狀態）
func IsSequencing(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotYourTurn, ErrCodeMatchNotInProgress, ErrCodeMatchFinished,
		ErrCodeNotAwaitingPlacement, ErrCodeNotAParticipant:
		return true
	}
	return false
}
