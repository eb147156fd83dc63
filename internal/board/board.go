// Package board 實現單一玩家的棋盤與艦隊模型
//
// 系統設計問題：
//
//	伺服器如何權威地驗證佈陣、判定射擊結果？
//
// 核心挑戰：
//  1. 佈陣驗證：越界、重疊、艦種數量超出艦隊清單
//  2. 射擊判定：同一座標只能射擊一次（重複射擊是錯誤，落空不是）
//  3. 擊沉判定：命中集合覆蓋全部格子才算擊沉
//
// 設計方案：
//
//	✅ occupied 索引（座標 → 艦艇）：O(1) 判定命中
//	✅ fired 集合：O(1) 拒絕重複射擊
//	✅ 先驗證後修改：任何錯誤都不改變棋盤狀態
//
// Board 本身不加鎖：它只屬於一個 Match，所有存取都在 Match 的鎖內進行。
package board

import (
	"fmt"

	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// DefaultSize 預設棋盤邊長
const DefaultSize = 10

// Manifest 艦隊清單（艦種 → 數量）
type Manifest map[ShipType]int

// DefaultManifest 預設艦隊：每種艦艇各一艘
func DefaultManifest() Manifest {
	return Manifest{Carrier: 1, Cruiser: 1, Submarine: 1, Boat: 1}
}

// Total 艦艇總數
func (m Manifest) Total() int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// Validate 檢查清單能否放進指定大小的棋盤
func (m Manifest) Validate(size int) error {
	if m.Total() == 0 {
		return apperrors.ErrInvalidInput.WithDetails("fleet manifest is empty")
	}
	cells := 0
	for t, n := range m {
		if t.Size() == 0 {
			return apperrors.ErrInvalidInput.WithDetails("unknown ship type %q", t)
		}
		if n < 0 {
			return apperrors.ErrInvalidInput.WithDetails("negative count for %s", t)
		}
		if n > 0 && t.Size() > size {
			return apperrors.ErrInvalidInput.WithDetails("%s does not fit a %dx%d board", t, size, size)
		}
		cells += n * t.Size()
	}
	if cells > size*size {
		return apperrors.ErrInvalidInput.WithDetails("fleet needs %d cells, board has %d", cells, size*size)
	}
	return nil
}

// CellState 棋盤格狀態（用於視圖）
type CellState string

const (
	CellWater CellState = "water"
	CellShip  CellState = "ship"
	CellHit   CellState = "hit"
	CellMiss  CellState = "miss"
	CellSunk  CellState = "sunk"
)

// ShotResult 射擊結果
type ShotResult struct {
	Coordinate Coordinate `json:"coordinate"`
	Hit        bool       `json:"hit"`
	ShipType   ShipType   `json:"ship_type,omitempty"`
	Sunk       bool       `json:"sunk"`
}

// Board 單一玩家的棋盤
type Board struct {
	size     int
	manifest Manifest
	ships    []*Ship
	occupied map[Coordinate]*Ship   // 座標 → 艦艇
	fired    map[Coordinate]struct{} // 對手已射擊的座標
	shots    []Coordinate            // 射擊順序（可重播）
}

// NewBoard 創建空棋盤
func NewBoard(size int, manifest Manifest) *Board {
	return &Board{
		size:     size,
		manifest: manifest,
		occupied: make(map[Coordinate]*Ship),
		fired:    make(map[Coordinate]struct{}),
	}
}

// Size 棋盤邊長
func (b *Board) Size() int { return b.size }

// InBounds 座標是否在 [0, size) 範圍內
func (b *Board) InBounds(c Coordinate) bool {
	return c.Col >= 0 && c.Col < b.size && c.Row >= 0 && c.Row < b.size
}

// PlaceShip 放置艦艇
//
// 驗證順序：艦艇本身 → 越界 → 重疊 → 艦種數量。
// 全部通過才寫入，失敗時棋盤不變。
func (b *Board) PlaceShip(s *Ship) error {
	if err := s.validate(); err != nil {
		return err
	}

	for _, c := range s.cells {
		if !b.InBounds(c) {
			return apperrors.ErrOutOfBounds.WithDetails("%s at %s", s.shipType, c)
		}
	}

	for _, c := range s.cells {
		if other, taken := b.occupied[c]; taken {
			return apperrors.ErrOverlap.WithDetails("%s overlaps %s at %s", s.shipType, other.shipType, c)
		}
	}

	if b.count(s.shipType) >= b.manifest[s.shipType] {
		return apperrors.ErrDuplicateType.WithDetails("%s allowed %d", s.shipType, b.manifest[s.shipType])
	}

	b.ships = append(b.ships, s)
	for _, c := range s.cells {
		b.occupied[c] = s
	}
	return nil
}

// ReceiveShot 承受對手射擊
func (b *Board) ReceiveShot(c Coordinate) (ShotResult, error) {
	if !b.InBounds(c) {
		return ShotResult{}, apperrors.ErrOutOfBounds.WithDetails("%s", c)
	}
	if _, done := b.fired[c]; done {
		return ShotResult{}, apperrors.ErrAlreadyFired.WithDetails("%s", c)
	}

	b.fired[c] = struct{}{}
	b.shots = append(b.shots, c)

	ship, hit := b.occupied[c]
	if !hit {
		return ShotResult{Coordinate: c}, nil
	}

	return ShotResult{
		Coordinate: c,
		Hit:        true,
		ShipType:   ship.shipType,
		Sunk:       ship.recordHit(c),
	}, nil
}

// AllShipsSunk 所有已放置的艦艇是否都被擊沉
//
// 空棋盤回傳 false：沒有艦隊就沒有「全滅」。
func (b *Board) AllShipsSunk() bool {
	if len(b.ships) == 0 {
		return false
	}
	for _, s := range b.ships {
		if !s.IsSunk() {
			return false
		}
	}
	return true
}

// IsComplete 是否已按艦隊清單放滿
func (b *Board) IsComplete() bool {
	for t, n := range b.manifest {
		if b.count(t) != n {
			return false
		}
	}
	return len(b.ships) == b.manifest.Total()
}

// Ships 已放置的艦艇
func (b *Board) Ships() []*Ship {
	out := make([]*Ship, len(b.ships))
	copy(out, b.ships)
	return out
}

// Placements 已放置艦艇的佈陣描述（按放置順序）
func (b *Board) Placements() []Placement {
	out := make([]Placement, 0, len(b.ships))
	for _, s := range b.ships {
		out = append(out, s.Placement())
	}
	return out
}

// Fired 該座標是否已被射擊
func (b *Board) Fired(c Coordinate) bool {
	_, ok := b.fired[c]
	return ok
}

// Shots 射擊紀錄（按時間順序）
func (b *Board) Shots() []Coordinate {
	out := make([]Coordinate, len(b.shots))
	copy(out, b.shots)
	return out
}

// ShipsRemaining 尚未擊沉的艦艇數
func (b *Board) ShipsRemaining() int {
	n := 0
	for _, s := range b.ships {
		if !s.IsSunk() {
			n++
		}
	}
	return n
}

// View 輸出棋盤視圖 view[row][col]
//
// reveal=true 為擁有者視角（看得到艦艇）；false 為對手視角（只看得到射擊結果）。
func (b *Board) View(reveal bool) [][]CellState {
	view := make([][]CellState, b.size)
	for row := range view {
		view[row] = make([]CellState, b.size)
		for col := range view[row] {
			view[row][col] = b.cellState(Coordinate{Col: col, Row: row}, reveal)
		}
	}
	return view
}

func (b *Board) cellState(c Coordinate, reveal bool) CellState {
	ship, hasShip := b.occupied[c]
	_, fired := b.fired[c]

	switch {
	case hasShip && ship.IsSunk():
		return CellSunk
	case hasShip && fired:
		return CellHit
	case fired:
		return CellMiss
	case hasShip && reveal:
		return CellShip
	default:
		return CellWater
	}
}

func (b *Board) count(t ShipType) int {
	n := 0
	for _, s := range b.ships {
		if s.shipType == t {
			n++
		}
	}
	return n
}

// String 除錯輸出
func (b *Board) String() string {
	return fmt.Sprintf("board(%dx%d, ships=%d, shots=%d)", b.size, b.size, len(b.ships), len(b.shots))
}
