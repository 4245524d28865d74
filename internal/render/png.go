package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/internal/session"
)

const (
	defaultSquareSize = 64
	boardMargin       = 24
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	selectedFill   = color.NRGBA{R: 255, G: 228, B: 120, A: 150}
	marginColor    = color.RGBA{40, 42, 54, 255}
	coordTextColor = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
)

// PNG draws f as a PNG image. squareSize <= 0 selects the default.
func PNG(ctx context.Context, f session.Frame, squareSize int) ([]byte, error) {
	if squareSize <= 0 {
		squareSize = defaultSquareSize
	}
	boardSize := squareSize * board.Size
	total := boardSize + boardMargin*2
	origin := image.Point{X: boardMargin, Y: boardMargin}

	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(marginColor), image.Point{}, imagedraw.Src)

	layout := board.Layout(f.Flipped)
	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			p := layout[row][col]
			rect := cellRect(row, col, squareSize, origin)
			clr := darkSquare
			if p.Shade() == board.Light {
				clr = lightSquare
			}
			imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Src)
			if f.Selected != nil && *f.Selected == p {
				imagedraw.Draw(img, rect, image.NewUniform(selectedFill), image.Point{}, imagedraw.Over)
			}
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			sym, ok := f.Snapshot.Board.At(layout[row][col])
			if !ok {
				continue
			}
			token, err := renderToken(sym, squareSize)
			if err != nil {
				return nil, err
			}
			rect := cellRect(row, col, squareSize, origin)
			imagedraw.Draw(img, rect, token, image.Point{}, imagedraw.Over)
		}
	}
	drawCoordinates(img, f.Flipped, squareSize, origin)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func cellRect(row, col, squareSize int, origin image.Point) image.Rectangle {
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

type tokenKey struct {
	sym  board.Symbol
	size int
}

var (
	tokenCache   = map[tokenKey]image.Image{}
	tokenCacheMu sync.RWMutex
)

// tokenSVG is a disc in the side's colours; the piece letter is stamped on
// top after rasterizing.
const tokenSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100" width="100" height="100">
<circle cx="50" cy="50" r="38" fill="%s" stroke="%s" stroke-width="6"/>
</svg>`

func renderToken(sym board.Symbol, size int) (image.Image, error) {
	key := tokenKey{sym: sym, size: size}
	tokenCacheMu.RLock()
	if img, ok := tokenCache[key]; ok {
		tokenCacheMu.RUnlock()
		return img, nil
	}
	tokenCacheMu.RUnlock()

	fill, stroke, text := "#f8f8f2", "#282a36", color.Color(color.RGBA{40, 42, 54, 255})
	if sym.Side() == board.Black {
		fill, stroke, text = "#282a36", "#f8f8f2", color.RGBA{248, 248, 242, 255}
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader([]byte(fmt.Sprintf(tokenSVG, fill, stroke))))
	if err != nil {
		return nil, fmt.Errorf("parse token svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, imagedraw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	letter := string(rune(sym))
	if sym.Side() == board.Black {
		letter = string(rune(sym) - 'a' + 'A')
	}
	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(text), Face: basicfont.Face7x13}
	drawCentered(drawer, letter, size/2, size/2+basicfont.Face7x13.Ascent/2)

	tokenCacheMu.Lock()
	tokenCache[key] = img
	tokenCacheMu.Unlock()
	return img, nil
}

func drawCoordinates(img *image.RGBA, flipped bool, squareSize int, origin image.Point) {
	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(coordTextColor), Face: basicfont.Face7x13}
	ascent := basicfont.Face7x13.Ascent
	boardEnd := origin.Y + squareSize*board.Size
	for i, l := range board.FileLabels(flipped) {
		cx := origin.X + i*squareSize + squareSize/2
		drawCentered(drawer, l, cx, origin.Y-(boardMargin-ascent)/2)
		drawCentered(drawer, l, cx, boardEnd+(boardMargin+ascent)/2)
	}
	for i, l := range board.RankLabels(flipped) {
		cy := origin.Y + i*squareSize + squareSize/2 + ascent/2
		drawCentered(drawer, l, origin.X/2, cy)
		drawCentered(drawer, l, origin.X+squareSize*board.Size+boardMargin/2, cy)
	}
}

func drawCentered(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

// PNGRenderer writes every frame to a file, replacing it atomically.
type PNGRenderer struct {
	path       string
	squareSize int
	logger     *zap.Logger
	mu         sync.Mutex
}

func NewPNGRenderer(path string, squareSize int, logger *zap.Logger) *PNGRenderer {
	return &PNGRenderer{path: path, squareSize: squareSize, logger: obslog.Or(logger)}
}

func (r *PNGRenderer) Render(f session.Frame) {
	data, err := PNG(context.Background(), f, r.squareSize)
	if err != nil {
		r.logger.Warn("render_png_failed", zap.Error(err))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tmp := r.path + ".tmp"
	if dir := filepath.Dir(r.path); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		r.logger.Warn("render_png_write_failed", zap.String("path", r.path), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, r.path); err != nil {
		r.logger.Warn("render_png_write_failed", zap.String("path", r.path), zap.Error(err))
	}
}
