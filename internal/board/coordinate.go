package board

import (
	"strconv"
	"strings"

	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// MaxSize 棋盤最大邊長（欄位以 A-Z 表示）
const MaxSize = 26

// Coordinate 棋盤座標（欄, 列），從 0 開始
type Coordinate struct {
	Col int `json:"x"`
	Row int `json:"y"`
}

// At 創建座標
func At(col, row int) Coordinate {
	return Coordinate{Col: col, Row: row}
}

// String 以 "B7" 形式輸出（欄位字母 + 從 1 開始的列號）
func (c Coordinate) String() string {
	if c.Col < 0 || c.Col >= MaxSize || c.Row < 0 {
		return "(" + strconv.Itoa(c.Col) + "," + strconv.Itoa(c.Row) + ")"
	}
	return string(rune('A'+c.Col)) + strconv.Itoa(c.Row+1)
}

// ParseCoordinate 解析 "B7" 形式的座標
//
// 只檢查記法本身；是否落在棋盤內由 Board 判斷。
func ParseCoordinate(s string) (Coordinate, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 || len(s) > 3 {
		return Coordinate{}, apperrors.ErrInvalidCoordinate.WithDetails("%q", s)
	}
	if s[0] < 'A' || s[0] > 'Z' {
		return Coordinate{}, apperrors.ErrInvalidCoordinate.WithDetails("%q", s)
	}
	row, err := strconv.Atoi(s[1:])
	if err != nil || row < 1 {
		return Coordinate{}, apperrors.ErrInvalidCoordinate.WithDetails("%q", s)
	}
	return Coordinate{Col: int(s[0] - 'A'), Row: row - 1}, nil
}
