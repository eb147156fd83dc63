package board_test

import (
	"errors"
	"testing"

	"github.com/koopa0/system-design/14-naval-battle/internal/board"
	apperrors "github.com/koopa0/system-design/14-naval-battle/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustShip(t *testing.T, st board.ShipType, col, row int, o board.Orientation) *board.Ship {
	t.Helper()
	s, err := board.NewShip(st, board.At(col, row), o)
	require.NoError(t, err)
	return s
}

// TestNewShip 測試艦艇格子推導
func TestNewShip(t *testing.T) {
	tests := []struct {
		name        string
		shipType    board.ShipType
		origin      board.Coordinate
		orientation board.Orientation
		wantCells   []board.Coordinate
		wantErr     error
	}{
		{
			name:        "horizontal carrier",
			shipType:    board.Carrier,
			origin:      board.At(2, 3),
			orientation: board.Horizontal,
			wantCells:   []board.Coordinate{board.At(2, 3), board.At(3, 3), board.At(4, 3), board.At(5, 3)},
		},
		{
			name:        "vertical submarine",
			shipType:    board.Submarine,
			origin:      board.At(0, 0),
			orientation: board.Vertical,
			wantCells:   []board.Coordinate{board.At(0, 0), board.At(0, 1)},
		},
		{
			name:        "boat is a single cell",
			shipType:    board.Boat,
			origin:      board.At(5, 5),
			orientation: board.Vertical,
			wantCells:   []board.Coordinate{board.At(5, 5)},
		},
		{
			name:        "unknown type",
			shipType:    board.ShipType("battleship"),
			orientation: board.Horizontal,
			wantErr:     apperrors.ErrInvalidShip,
		},
		{
			name:        "unknown orientation",
			shipType:    board.Cruiser,
			orientation: board.Orientation("diagonal"),
			wantErr:     apperrors.ErrInvalidShip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := board.NewShip(tt.shipType, tt.origin, tt.orientation)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCells, s.Cells())
			assert.Equal(t, board.Intact, s.Status())
		})
	}
}

// TestBoard_PlaceShip 測試佈陣驗證
func TestBoard_PlaceShip(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, b *board.Board)
		ship    func(t *testing.T) *board.Ship
		wantErr error
	}{
		{
			name: "valid placement",
			ship: func(t *testing.T) *board.Ship { return mustShip(t, board.Carrier, 0, 0, board.Horizontal) },
		},
		{
			name: "runs off the right edge",
			ship: func(t *testing.T) *board.Ship {
				return mustShip(t, board.Carrier, 7, 0, board.Horizontal)
			},
			wantErr: apperrors.ErrOutOfBounds,
		},
		{
			name: "runs off the bottom edge",
			ship: func(t *testing.T) *board.Ship {
				return mustShip(t, board.Cruiser, 0, 8, board.Vertical)
			},
			wantErr: apperrors.ErrOutOfBounds,
		},
		{
			name: "negative origin",
			ship: func(t *testing.T) *board.Ship {
				return mustShip(t, board.Boat, -1, 0, board.Vertical)
			},
			wantErr: apperrors.ErrOutOfBounds,
		},
		{
			name: "overlap with placed ship",
			setup: func(t *testing.T, b *board.Board) {
				require.NoError(t, b.PlaceShip(mustShip(t, board.Carrier, 0, 2, board.Horizontal)))
			},
			ship: func(t *testing.T) *board.Ship {
				return mustShip(t, board.Cruiser, 2, 0, board.Vertical)
			},
			wantErr: apperrors.ErrOverlap,
		},
		{
			name: "adjacent ships are allowed",
			setup: func(t *testing.T, b *board.Board) {
				require.NoError(t, b.PlaceShip(mustShip(t, board.Carrier, 0, 0, board.Horizontal)))
			},
			ship: func(t *testing.T) *board.Ship {
				return mustShip(t, board.Cruiser, 0, 1, board.Horizontal)
			},
		},
		{
			name: "duplicate type beyond manifest",
			setup: func(t *testing.T, b *board.Board) {
				require.NoError(t, b.PlaceShip(mustShip(t, board.Boat, 9, 9, board.Horizontal)))
			},
			ship: func(t *testing.T) *board.Ship {
				return mustShip(t, board.Boat, 0, 0, board.Horizontal)
			},
			wantErr: apperrors.ErrDuplicateType,
		},
		{
			name:    "zero value ship fails closed",
			ship:    func(t *testing.T) *board.Ship { return &board.Ship{} },
			wantErr: apperrors.ErrInvalidShip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := board.NewBoard(board.DefaultSize, board.DefaultManifest())
			if tt.setup != nil {
				tt.setup(t, b)
			}
			before := len(b.Ships())

			err := b.PlaceShip(tt.ship(t))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Len(t, b.Ships(), before, "failed placement must not change the board")
				return
			}
			require.NoError(t, err)
			assert.Len(t, b.Ships(), before+1)
		})
	}
}

// TestBoard_ReceiveShot 測試射擊判定
func TestBoard_ReceiveShot(t *testing.T) {
	b := board.NewBoard(board.DefaultSize, board.DefaultManifest())
	require.NoError(t, b.PlaceShip(mustShip(t, board.Submarine, 3, 3, board.Horizontal)))

	t.Run("miss is a recorded outcome", func(t *testing.T) {
		res, err := b.ReceiveShot(board.At(0, 0))
		require.NoError(t, err)
		assert.False(t, res.Hit)
		assert.True(t, b.Fired(board.At(0, 0)))
	})

	t.Run("re-firing a miss is rejected", func(t *testing.T) {
		_, err := b.ReceiveShot(board.At(0, 0))
		assert.True(t, errors.Is(err, apperrors.ErrAlreadyFired))
	})

	t.Run("first hit damages", func(t *testing.T) {
		res, err := b.ReceiveShot(board.At(3, 3))
		require.NoError(t, err)
		assert.True(t, res.Hit)
		assert.False(t, res.Sunk)
		assert.Equal(t, board.Submarine, res.ShipType)
		assert.Equal(t, board.Damaged, b.Ships()[0].Status())
	})

	t.Run("re-firing a hit is rejected", func(t *testing.T) {
		_, err := b.ReceiveShot(board.At(3, 3))
		assert.True(t, errors.Is(err, apperrors.ErrAlreadyFired))
		assert.Equal(t, board.Damaged, b.Ships()[0].Status())
	})

	t.Run("last cell sinks", func(t *testing.T) {
		res, err := b.ReceiveShot(board.At(4, 3))
		require.NoError(t, err)
		assert.True(t, res.Hit)
		assert.True(t, res.Sunk)
		assert.True(t, b.AllShipsSunk())
	})

	t.Run("out of bounds fails before touching state", func(t *testing.T) {
		shots := len(b.Shots())
		_, err := b.ReceiveShot(board.At(10, 0))
		assert.True(t, errors.Is(err, apperrors.ErrOutOfBounds))
		assert.Len(t, b.Shots(), shots)
	})

	assert.Equal(t, []board.Coordinate{board.At(0, 0), board.At(3, 3), board.At(4, 3)}, b.Shots())
}

// TestBoard_SunkIffAllCellsHit 擊沉 ⇔ 所有格子都被命中
func TestBoard_SunkIffAllCellsHit(t *testing.T) {
	for _, st := range board.ShipTypes {
		t.Run(string(st), func(t *testing.T) {
			b := board.NewBoard(board.DefaultSize, board.Manifest{st: 1})
			ship := mustShip(t, st, 1, 1, board.Vertical)
			require.NoError(t, b.PlaceShip(ship))

			cells := ship.Cells()
			for i, c := range cells {
				res, err := b.ReceiveShot(c)
				require.NoError(t, err)
				last := i == len(cells)-1
				assert.Equal(t, last, res.Sunk)
				if !last {
					assert.Equal(t, board.Damaged, ship.Status())
				}
			}
			assert.Equal(t, board.Sunk, ship.Status())
			assert.Equal(t, cells, ship.Hits())
		})
	}
}

// TestBoard_IsComplete 測試艦隊清單完整性
func TestBoard_IsComplete(t *testing.T) {
	b := board.NewBoard(board.DefaultSize, board.DefaultManifest())
	assert.False(t, b.IsComplete())
	assert.False(t, b.AllShipsSunk(), "empty board has no fleet to sink")

	require.NoError(t, b.PlaceShip(mustShip(t, board.Carrier, 0, 0, board.Horizontal)))
	require.NoError(t, b.PlaceShip(mustShip(t, board.Cruiser, 0, 2, board.Horizontal)))
	require.NoError(t, b.PlaceShip(mustShip(t, board.Submarine, 0, 4, board.Horizontal)))
	assert.False(t, b.IsComplete())

	require.NoError(t, b.PlaceShip(mustShip(t, board.Boat, 0, 6, board.Horizontal)))
	assert.True(t, b.IsComplete())
	assert.Equal(t, 4, b.ShipsRemaining())
}

// TestBoard_View 測試擁有者與對手視角
func TestBoard_View(t *testing.T) {
	b := board.NewBoard(3, board.Manifest{board.Submarine: 1})
	require.NoError(t, b.PlaceShip(mustShip(t, board.Submarine, 0, 0, board.Horizontal)))

	_, err := b.ReceiveShot(board.At(0, 0))
	require.NoError(t, err)
	_, err = b.ReceiveShot(board.At(2, 2))
	require.NoError(t, err)

	owner := b.View(true)
	assert.Equal(t, board.CellHit, owner[0][0])
	assert.Equal(t, board.CellShip, owner[0][1])
	assert.Equal(t, board.CellMiss, owner[2][2])
	assert.Equal(t, board.CellWater, owner[1][1])

	opponent := b.View(false)
	assert.Equal(t, board.CellHit, opponent[0][0])
	assert.Equal(t, board.CellWater, opponent[0][1], "unhit ship cells stay hidden")

	_, err = b.ReceiveShot(board.At(1, 0))
	require.NoError(t, err)
	opponent = b.View(false)
	assert.Equal(t, board.CellSunk, opponent[0][0])
	assert.Equal(t, board.CellSunk, opponent[0][1])
}

// TestManifest_Validate 測試艦隊清單驗證
func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		manifest board.Manifest
		size     int
		wantErr  bool
	}{
		{name: "default fits 10x10", manifest: board.DefaultManifest(), size: 10},
		{name: "boat fits 2x2", manifest: board.Manifest{board.Boat: 1}, size: 2},
		{name: "empty manifest", manifest: board.Manifest{}, size: 10, wantErr: true},
		{name: "carrier too long for 3x3", manifest: board.Manifest{board.Carrier: 1}, size: 3, wantErr: true},
		{name: "too many cells", manifest: board.Manifest{board.Boat: 5}, size: 2, wantErr: true},
		{name: "unknown type", manifest: board.Manifest{"dinghy": 1}, size: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate(tt.size)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestParseCoordinate 測試座標記法
func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		in      string
		want    board.Coordinate
		wantErr bool
	}{
		{in: "A1", want: board.At(0, 0)},
		{in: "b7", want: board.At(1, 6)},
		{in: " J10 ", want: board.At(9, 9)},
		{in: "A0", wantErr: true},
		{in: "7B", wantErr: true},
		{in: "A", wantErr: true},
		{in: "A100", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := board.ParseCoordinate(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperrors.ErrInvalidCoordinate))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) board.Coordinate {
	t.Helper()
	c, err := board.ParseCoordinate(s)
	require.NoError(t, err)
	return c
}
