// Package render draws session frames. Every call rebuilds the whole board
// from the frame; nothing is patched incrementally.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/internal/msgcat"
	"github.com/park285/cheese-board-client/internal/session"
)

// Text formats f as a terminal board with coordinates and a status line.
func Text(f session.Frame, cat *msgcat.Catalog) string {
	var b strings.Builder
	files := board.FileLabels(f.Flipped)
	ranks := board.RankLabels(f.Flipped)
	layout := board.Layout(f.Flipped)

	header := "   "
	for _, l := range files {
		header += " " + l + " "
	}
	b.WriteString(header + "\n")

	for row := 0; row < board.Size; row++ {
		fmt.Fprintf(&b, " %s ", ranks[row])
		for col := 0; col < board.Size; col++ {
			p := layout[row][col]
			b.WriteString(cell(f, p))
		}
		fmt.Fprintf(&b, " %s\n", ranks[row])
	}
	b.WriteString(header + "\n")

	snap := f.Snapshot
	fallback := fmt.Sprintf("%s %s %s %s", snap.SessionID, snap.Status, snap.CurrentTurn, f.Role)
	b.WriteString(cat.Text("board.status", map[string]any{
		"SessionID": snap.SessionID,
		"Status":    string(snap.Status),
		"Turn":      string(snap.CurrentTurn),
		"Role":      string(f.Role),
	}, fallback))
	b.WriteString("\n")
	if f.Selected != nil {
		b.WriteString(cat.Text("board.selected", map[string]any{"Position": f.Selected.String()}, f.Selected.String()))
		b.WriteString("\n")
	}
	return b.String()
}

func cell(f session.Frame, p board.Position) string {
	mark := "·"
	if p.Shade() == board.Dark {
		mark = " "
	}
	if sym, ok := f.Snapshot.Board.At(p); ok {
		mark = sym.Glyph()
	}
	if f.Selected != nil && *f.Selected == p {
		return "[" + mark + "]"
	}
	return " " + mark + " "
}

// TextRenderer writes each frame to w.
type TextRenderer struct {
	mu  sync.Mutex
	w   io.Writer
	cat *msgcat.Catalog
}

func NewTextRenderer(w io.Writer, cat *msgcat.Catalog) *TextRenderer {
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	return &TextRenderer{w: w, cat: cat}
}

func (r *TextRenderer) Render(f session.Frame) {
	out := Text(f, r.cat)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.w, "\n"+out)
}

// Multi fans a frame out to several renderers in order.
type Multi []session.Renderer

func (m Multi) Render(f session.Frame) {
	for _, r := range m {
		if r != nil {
			r.Render(f)
		}
	}
}
