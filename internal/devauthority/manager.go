package devauthority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-board-client/internal/authority"
	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/internal/snapshot"
)

const (
	keySeq     = "board:session:seq"
	defaultTTL = 24 * time.Hour
)

func gameKey(id string) string { return "board:session:" + strings.TrimSpace(id) }

// Publisher is told about every snapshot the manager commits.
type Publisher interface {
	Publish(ctx context.Context, snap snapshot.Snapshot)
}

// Manager owns session state in Redis. Every mutation runs in a WATCH
// transaction on the session key, so concurrent requests for one session
// serialize.
type Manager struct {
	rdb        *redis.Client
	ttl        time.Duration
	archive    *Archive
	publishers []Publisher
	logger     *zap.Logger
}

func NewManager(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{rdb: rdb, ttl: ttl, logger: obslog.Or(logger)}
}

// AttachArchive wires a database archive for finished sessions.
func (m *Manager) AttachArchive(a *Archive) { m.archive = a }

func (m *Manager) AddPublisher(p Publisher) {
	if p != nil {
		m.publishers = append(m.publishers, p)
	}
}

// Create opens a session with clientID as WHITE.
func (m *Manager) Create(ctx context.Context, clientID string) (*Game, error) {
	n, err := m.rdb.Incr(ctx, keySeq).Result()
	if err != nil {
		return nil, fmt.Errorf("next session id: %w", err)
	}
	now := time.Now()
	g := &Game{
		ID:        strconv.FormatInt(n, 10),
		MovesUCI:  []string{},
		MovesSAN:  []string{},
		Turn:      board.White,
		Status:    snapshot.StatusAwaitingOpponent,
		WhiteID:   strings.TrimSpace(clientID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.save(ctx, g); err != nil {
		return nil, err
	}
	m.logger.Info("session_create", zap.String("session", g.ID), zap.String("white_id", g.WhiteID))
	m.publish(ctx, g)
	return g, nil
}

// Join seats clientID as BLACK. Rejoining returns the existing seat.
func (m *Manager) Join(ctx context.Context, id, clientID string) (*Game, board.Side, error) {
	clientID = strings.TrimSpace(clientID)
	var side board.Side
	g, err := m.update(ctx, id, func(cur *Game) error {
		if s, ok := cur.SideOf(clientID); ok {
			side = s
			return errUnchanged
		}
		if cur.BlackID != "" {
			return reject(authority.CodeAlreadyFull, "Game already has two players")
		}
		cur.BlackID = clientID
		if cur.Status == snapshot.StatusAwaitingOpponent {
			cur.Status = snapshot.StatusActive
		}
		side = board.Black
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	m.logger.Info("session_join", zap.String("session", g.ID), zap.String("client_id", clientID), zap.String("side", string(side)))
	return g, side, nil
}

// Read returns the session or a NOT_FOUND rejection.
func (m *Manager) Read(ctx context.Context, id string) (*Game, error) {
	g, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, reject(authority.CodeNotFound, "Game not found")
	}
	return g, nil
}

// Move applies from→to for clientID. promotion may be empty; a pawn reaching
// the last rank without one promotes to a queen.
func (m *Manager) Move(ctx context.Context, id, clientID, from, to, promotion string) (*Game, error) {
	fromPos, err := board.ParsePosition(strings.ToUpper(strings.TrimSpace(from)))
	if err != nil {
		return nil, reject(authority.CodeInvalidRequest, "Invalid from square")
	}
	toPos, err := board.ParsePosition(strings.ToUpper(strings.TrimSpace(to)))
	if err != nil {
		return nil, reject(authority.CodeInvalidRequest, "Invalid to square")
	}
	promo := ""
	if p := strings.TrimSpace(promotion); p != "" {
		k, kerr := board.ParseKind(p)
		if kerr != nil || k == board.King || k == board.Pawn {
			return nil, reject(authority.CodeInvalidRequest, "Invalid promotion piece")
		}
		promo = strings.ToLower(board.SymbolOf(k, board.White).String())
	}
	uci := strings.ToLower(fromPos.String() + toPos.String())

	g, err := m.update(ctx, id, func(cur *Game) error {
		if err := checkTurn(cur, clientID); err != nil {
			return err
		}
		game := reconstruct(cur.MovesUCI)
		if game == nil {
			return errors.New("failed to reconstruct game")
		}
		pos := game.Position()
		played := uci + promo
		if err := game.PushNotationMove(played, nchess.UCINotation{}, nil); err != nil {
			if promo != "" || !isPawn(pos, fromPos) {
				return reject(authority.CodeIllegalMove, "Illegal move")
			}
			played = uci + "q"
			if err := game.PushNotationMove(played, nchess.UCINotation{}, nil); err != nil {
				return reject(authority.CodeIllegalMove, "Illegal move")
			}
		}
		last := lastMove(game)
		if last == nil {
			return reject(authority.CodeIllegalMove, "Illegal move")
		}
		cur.MovesUCI = append(cur.MovesUCI, played)
		cur.MovesSAN = append(cur.MovesSAN, nchess.AlgebraicNotation{}.Encode(pos, last))
		applyOutcome(cur, game)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("session_move",
		zap.String("session", g.ID),
		zap.String("client_id", clientID),
		zap.String("last_uci", g.MovesUCI[len(g.MovesUCI)-1]),
		zap.String("status", string(g.Status)),
		zap.String("outcome", g.Outcome),
	)
	if g.Status == snapshot.StatusFinished {
		m.persistIfFinal(ctx, g)
	}
	return g, nil
}

// Undo takes back the last move of the session.
func (m *Manager) Undo(ctx context.Context, id, clientID string) (*Game, error) {
	g, err := m.update(ctx, id, func(cur *Game) error {
		if _, ok := cur.SideOf(clientID); !ok {
			return reject(authority.CodeUndoNotAllowed, "You are not a player in this game")
		}
		if cur.Status == snapshot.StatusFinished {
			return reject(authority.CodeUndoNotAllowed, "Game is over")
		}
		n := len(cur.MovesUCI)
		if n == 0 {
			return reject(authority.CodeNothingToUndo, "Nothing to undo")
		}
		game := reconstruct(cur.MovesUCI[:n-1])
		if game == nil {
			return errors.New("failed to reconstruct game")
		}
		cur.MovesUCI = cur.MovesUCI[:n-1]
		if len(cur.MovesSAN) >= n {
			cur.MovesSAN = cur.MovesSAN[:n-1]
		}
		applyOutcome(cur, game)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("session_undo", zap.String("session", g.ID), zap.String("client_id", clientID), zap.Int("moves", len(g.MovesUCI)))
	return g, nil
}

// Snapshot renders g in the client's wire model.
func (m *Manager) Snapshot(g *Game) (snapshot.Snapshot, error) {
	return snapshotOf(g)
}

func snapshotOf(g *Game) (snapshot.Snapshot, error) {
	game := reconstruct(g.MovesUCI)
	if game == nil {
		return snapshot.Snapshot{}, fmt.Errorf("session %s: corrupt move list", g.ID)
	}
	pieces := map[board.Position]board.Symbol{}
	for sq, pc := range game.Position().Board().SquareMap() {
		sym, ok := board.SymbolFromPiece(pc)
		if !ok {
			continue
		}
		p, err := board.FromSquare(sq)
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		pieces[p] = sym
	}
	return snapshot.Snapshot{
		SessionID:   g.ID,
		Status:      g.Status,
		CurrentTurn: g.Turn,
		Board:       board.NewBoard(pieces),
	}, nil
}

var errUnchanged = errors.New("unchanged")

// update runs fn on the current session inside a WATCH transaction, saves the
// result and publishes it. fn returning errUnchanged skips the write.
func (m *Manager) update(ctx context.Context, id string, fn func(cur *Game) error) (*Game, error) {
	key := gameKey(id)
	var out *Game
	changed := false
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return reject(authority.CodeNotFound, "Game not found")
		}
		if err != nil {
			return err
		}
		var cur Game
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		if err := fn(&cur); err != nil {
			if errors.Is(err, errUnchanged) {
				out = &cur
				return nil
			}
			return err
		}
		cur.UpdatedAt = time.Now()
		newRaw, err := json.Marshal(&cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newRaw, m.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = &cur
		changed = true
		return nil
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := m.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if changed {
			m.publish(ctx, out)
		}
		return out, nil
	}
	return nil, fmt.Errorf("session %s: too much contention", id)
}

func (m *Manager) publish(ctx context.Context, g *Game) {
	if len(m.publishers) == 0 {
		return
	}
	snap, err := snapshotOf(g)
	if err != nil {
		m.logger.Warn("session_publish_error", zap.String("session", g.ID), zap.Error(err))
		return
	}
	for _, p := range m.publishers {
		p.Publish(ctx, snap)
	}
}

func checkTurn(cur *Game, clientID string) error {
	switch cur.Status {
	case snapshot.StatusFinished:
		return reject(authority.CodeGameOver, "Game is over")
	case snapshot.StatusAwaitingOpponent:
		return reject(authority.CodeNotYourTurn, "Waiting for an opponent to join")
	}
	side, ok := cur.SideOf(clientID)
	if !ok {
		return reject(authority.CodeNotYourTurn, "You are not a player in this game")
	}
	if side != cur.Turn {
		return reject(authority.CodeNotYourTurn, "Not your turn")
	}
	return nil
}

func applyOutcome(cur *Game, game *nchess.Game) {
	cur.Turn = sideFrom(game.Position().Turn())
	cur.Outcome, cur.Method = "", ""
	switch game.Outcome() {
	case nchess.WhiteWon:
		cur.Outcome = "white"
	case nchess.BlackWon:
		cur.Outcome = "black"
	case nchess.Draw:
		cur.Outcome = "draw"
	default:
		if cur.BlackID != "" {
			cur.Status = snapshot.StatusActive
		}
		return
	}
	cur.Status = snapshot.StatusFinished
	cur.Method = strings.ToLower(game.Method().String())
}

func isPawn(pos *nchess.Position, p board.Position) bool {
	return pos.Board().Piece(p.Square()).Type() == nchess.Pawn
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

// reconstruct replays UCI moves from the start position.
func reconstruct(moves []string) *nchess.Game {
	game := nchess.NewGame()
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return game
}

func sideFrom(c nchess.Color) board.Side {
	if c == nchess.White {
		return board.White
	}
	return board.Black
}

func (m *Manager) save(ctx context.Context, g *Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, gameKey(g.ID), raw, m.ttl).Err()
}

func (m *Manager) get(ctx context.Context, id string) (*Game, error) {
	raw, err := m.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (m *Manager) persistIfFinal(ctx context.Context, g *Game) {
	if m.archive == nil || g.Status != snapshot.StatusFinished {
		return
	}
	if err := m.archive.SaveResult(ctx, g); err != nil {
		m.logger.Error("session_result_persist_error", zap.String("session", g.ID), zap.String("outcome", g.Outcome), zap.Error(err))
		return
	}
	m.logger.Info("session_result_persist", zap.String("session", g.ID), zap.String("outcome", g.Outcome), zap.String("method", g.Method))
}
