package board

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
)

// ShipType 艦種
type ShipType string

const (
	Carrier   ShipType = "carrier"   // 4 格
	Cruiser   ShipType = "cruiser"   // 3 格
	Submarine ShipType = "submarine" // 2 格
	Boat      ShipType = "boat"      // 1 格
)

// ShipTypes 所有艦種，由大到小
var ShipTypes = []ShipType{Carrier, Cruiser, Submarine, Boat}

// Size 艦種佔用的格數，未知艦種為 0
func (t ShipType) Size() int {
	switch t {
	case Carrier:
		return 4
	case Cruiser:
		return 3
	case Submarine:
		return 2
	case Boat:
		return 1
	}
	return 0
}

// ParseShipType 解析艦種名稱（不分大小寫）
func ParseShipType(s string) (ShipType, error) {
	t := ShipType(strings.ToLower(strings.TrimSpace(s)))
	if t.Size() == 0 {
		return "", apperrors.ErrInvalidShip.WithDetails("unknown ship type %q", s)
	}
	return t, nil
}

// Orientation 艦艇方向
type Orientation string

const (
	Horizontal Orientation = "horizontal" // 沿欄位延伸
	Vertical   Orientation = "vertical"   // 沿列延伸
)

// Status 艦艇狀態
type Status string

const (
	Intact  Status = "intact"
	Damaged Status = "damaged"
	Sunk    Status = "sunk"
)

// Placement 佈陣描述（線路上傳輸的格式）
type Placement struct {
	Type        ShipType    `json:"type"`
	Origin      Coordinate  `json:"origin"`
	Orientation Orientation `json:"orientation"`
}

// Ship 單一艦艇
//
// 不變量：
//   - cells 在佈陣後不再改變
//   - hits 只增不減，且一定是 cells 的子集
//
// 修改方法皆未導出，只有 Board 能記錄命中。
type Ship struct {
	shipType    ShipType
	orientation Orientation
	cells       []Coordinate
	hits        map[Coordinate]struct{}
}

// NewShip 從起點與方向創建艦艇
func NewShip(t ShipType, origin Coordinate, o Orientation) (*Ship, error) {
	size := t.Size()
	if size == 0 {
		return nil, apperrors.ErrInvalidShip.WithDetails("unknown ship type %q", t)
	}

	var dc, dr int
	switch o {
	case Horizontal:
		dc = 1
	case Vertical:
		dr = 1
	default:
		return nil, apperrors.ErrInvalidShip.WithDetails("unknown orientation %q", o)
	}

	cells := make([]Coordinate, size)
	for i := range cells {
		cells[i] = Coordinate{Col: origin.Col + i*dc, Row: origin.Row + i*dr}
	}

	return &Ship{
		shipType:    t,
		orientation: o,
		cells:       cells,
		hits:        make(map[Coordinate]struct{}, size),
	}, nil
}

// FromPlacement 從佈陣描述創建艦艇
func FromPlacement(p Placement) (*Ship, error) {
	return NewShip(p.Type, p.Origin, p.Orientation)
}

// Type 艦種
func (s *Ship) Type() ShipType { return s.shipType }

// Orientation 方向
func (s *Ship) Orientation() Orientation { return s.orientation }

// Placement 還原佈陣描述
func (s *Ship) Placement() Placement {
	return Placement{Type: s.shipType, Origin: s.cells[0], Orientation: s.orientation}
}

// Cells 佔用的座標（副本）
func (s *Ship) Cells() []Coordinate {
	out := make([]Coordinate, len(s.cells))
	copy(out, s.cells)
	return out
}

// Occupies 是否佔用該座標
func (s *Ship) Occupies(c Coordinate) bool {
	for _, cell := range s.cells {
		if cell == c {
			return true
		}
	}
	return false
}

// Hits 已被命中的座標，依列、欄排序
func (s *Ship) Hits() []Coordinate {
	out := make([]Coordinate, 0, len(s.hits))
	for c := range s.hits {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}

// IsHit 該格是否已被命中
func (s *Ship) IsHit(c Coordinate) bool {
	_, ok := s.hits[c]
	return ok
}

// Status 由命中集合推導狀態
func (s *Ship) Status() Status {
	switch {
	case len(s.hits) == 0:
		return Intact
	case len(s.hits) == len(s.cells):
		return Sunk
	default:
		return Damaged
	}
}

// IsSunk 是否已擊沉
func (s *Ship) IsSunk() bool {
	return s.Status() == Sunk
}

// recordHit 記錄命中並回傳是否擊沉
func (s *Ship) recordHit(c Coordinate) bool {
	s.hits[c] = struct{}{}
	return s.IsSunk()
}

// validate 檢查格數與連續性
func (s *Ship) validate() error {
	if s == nil || len(s.cells) == 0 {
		return apperrors.ErrInvalidShip.WithDetails("empty ship")
	}
	if len(s.cells) != s.shipType.Size() {
		return apperrors.ErrInvalidShip.WithDetails("%s needs %d cells, got %d",
			s.shipType, s.shipType.Size(), len(s.cells))
	}

	var dc, dr int
	switch s.orientation {
	case Horizontal:
		dc = 1
	case Vertical:
		dr = 1
	default:
		return apperrors.ErrInvalidShip.WithDetails("unknown orientation %q", s.orientation)
	}

	origin := s.cells[0]
	for i, c := range s.cells {
		if c.Col != origin.Col+i*dc || c.Row != origin.Row+i*dr {
			return apperrors.ErrInvalidShip.WithDetails("cell %s breaks the %s run", c, s.orientation)
		}
	}
	return nil
}

// String 除錯輸出
func (s *Ship) String() string {
	if len(s.cells) == 0 {
		return string(s.shipType)
	}
	return fmt.Sprintf("%s@%s/%s", s.shipType, s.cells[0], s.orientation)
}
