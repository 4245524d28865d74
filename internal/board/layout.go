package board

// Layout returns positions in screen order: row 0 is the top row, col 0 the
// leftmost column. Unflipped boards put rank 8 on top and file A on the left;
// flipped boards mirror both axes so BLACK's back rank sits at the bottom.
func Layout(flipped bool) [Size][Size]Position {
	var grid [Size][Size]Position
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			grid[row][col] = atScreen(row, col, flipped)
		}
	}
	return grid
}

// AtScreen returns the position rendered at (row, col). ok is false for cells
// off the board.
func AtScreen(row, col int, flipped bool) (p Position, ok bool) {
	if row < 0 || row >= Size || col < 0 || col >= Size {
		return Position{}, false
	}
	return atScreen(row, col, flipped), true
}

func atScreen(row, col int, flipped bool) Position {
	if flipped {
		return Position{file: int8(Size - 1 - col), rank: int8(row)}
	}
	return Position{file: int8(col), rank: int8(Size - 1 - row)}
}

// ScreenCell is the inverse of AtScreen.
func ScreenCell(p Position, flipped bool) (row, col int) {
	if flipped {
		return int(p.rank), Size - 1 - int(p.file)
	}
	return Size - 1 - int(p.rank), int(p.file)
}

// FileLabels returns file letters in left-to-right screen order.
func FileLabels(flipped bool) []string {
	out := make([]string, Size)
	for col := 0; col < Size; col++ {
		out[col] = string(rune('A' + atScreen(0, col, flipped).file))
	}
	return out
}

// RankLabels returns rank digits in top-to-bottom screen order.
func RankLabels(flipped bool) []string {
	out := make([]string, Size)
	for row := 0; row < Size; row++ {
		out[row] = string(rune('1' + atScreen(row, 0, flipped).rank))
	}
	return out
}
