// Package session holds the per-session view: the local role and orientation,
// the snapshot store, the selection machine and the sync subscription, plus
// the start/join/move/undo actions that drive them.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-board-client/internal/authority"
	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/internal/msgcat"
	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/internal/selection"
	"github.com/park285/cheese-board-client/internal/snapshot"
	"github.com/park285/cheese-board-client/internal/syncchan"
)

// Actions is the authority surface a view needs. *authority.Client implements it.
type Actions interface {
	Create(ctx context.Context) (*authority.Session, error)
	Join(ctx context.Context, sessionID string) (*authority.Session, error)
	Move(ctx context.Context, sessionID string, from, to board.Position, promotion *board.Kind) (snapshot.Snapshot, error)
	Undo(ctx context.Context, sessionID string) (snapshot.Snapshot, error)
}

// Frame is everything a renderer needs to draw the board once.
type Frame struct {
	Snapshot snapshot.Snapshot
	Role     board.Side
	Flipped  bool
	Selected *board.Position
}

// Renderer draws a frame. It is never called while the selection machine is
// locked, so it may query the view.
type Renderer interface {
	Render(f Frame)
}

// Notifier receives user-facing messages (errors, confirmations).
type Notifier interface {
	Notify(msg string)
}

type RendererFunc func(Frame)

func (f RendererFunc) Render(fr Frame) { f(fr) }

type NotifierFunc func(string)

func (f NotifierFunc) Notify(msg string) { f(msg) }

type Options struct {
	Actions  Actions
	Channel  syncchan.Channel
	Renderer Renderer
	Notifier Notifier
	Catalog  *msgcat.Catalog
	Logger   *zap.Logger
}

// View is one independent session context. Several views may coexist.
type View struct {
	id       string
	actions  Actions
	channel  syncchan.Channel
	renderer Renderer
	notifier Notifier
	catalog  *msgcat.Catalog
	logger   *zap.Logger

	store   *snapshot.Store
	machine *selection.Machine
	hl      *highlight

	// deliverM orders store replacements against session switches.
	deliverM sync.Mutex

	mu        sync.Mutex
	sessionID string
	role      board.Side
	flipped   bool
	sub       syncchan.Subscription
	gen       uint64
	closed    bool
}

func NewView(opts Options) *View {
	v := &View{
		id:       uuid.NewString(),
		actions:  opts.Actions,
		channel:  opts.Channel,
		renderer: opts.Renderer,
		notifier: opts.Notifier,
		catalog:  opts.Catalog,
		logger:   obslog.Or(opts.Logger),
		store:    snapshot.NewStore(),
	}
	if v.catalog == nil {
		v.catalog = msgcat.MustDefault()
	}
	v.hl = &highlight{}
	v.machine = selection.NewMachine(v.occupied, v.hl)
	v.store.Subscribe(v.onSnapshot)
	return v
}

func (v *View) ID() string { return v.id }

func (v *View) SessionID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sessionID
}

func (v *View) Role() board.Side {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.role
}

func (v *View) Flipped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flipped
}

func (v *View) Current() (snapshot.Snapshot, bool) { return v.store.Current() }

func (v *View) Selection() selection.State { return v.machine.State() }

// Frame returns the current drawing state.
func (v *View) Frame() (Frame, bool) {
	snap, ok := v.store.Current()
	if !ok {
		return Frame{}, false
	}
	v.mu.Lock()
	f := Frame{Snapshot: snap, Role: v.role, Flipped: v.flipped}
	v.mu.Unlock()
	f.Selected = v.hl.current()
	return f, true
}

func (v *View) occupied(p board.Position) bool {
	snap, ok := v.store.Current()
	return ok && snap.Board.Occupied(p)
}

// onSnapshot runs for every store replacement: selection is dropped and the
// board is redrawn from scratch, once.
func (v *View) onSnapshot(snapshot.Snapshot) {
	v.machine.Reset()
	v.hl.takeDirty()
	v.redraw()
}

// settle redraws when the last machine call changed the highlight. It runs
// after the machine has released its lock.
func (v *View) settle() {
	if v.hl.takeDirty() {
		v.redraw()
	}
}

func (v *View) resetSelection() {
	v.machine.Reset()
	v.settle()
}

func (v *View) redraw() {
	if v.renderer == nil {
		return
	}
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return
	}
	if f, ok := v.Frame(); ok {
		v.renderer.Render(f)
	}
}

// deliver stores snap if it still belongs to generation gen.
func (v *View) deliver(gen uint64, snap snapshot.Snapshot) bool {
	v.deliverM.Lock()
	defer v.deliverM.Unlock()
	v.mu.Lock()
	ok := !v.closed && gen == v.gen && snap.SessionID == v.sessionID
	v.mu.Unlock()
	if !ok {
		v.logger.Debug("session_stale_snapshot", zap.String("view", v.id), zap.String("session", snap.SessionID))
		return false
	}
	return v.store.Replace(snap)
}

func (v *View) generation() (uint64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gen, v.closed
}

// adopt switches the view to a new session, unless something else happened
// to the view since the request for it was issued.
func (v *View) adopt(ctx context.Context, issued uint64, snap snapshot.Snapshot, role board.Side) bool {
	v.mu.Lock()
	if v.closed || v.gen != issued {
		v.mu.Unlock()
		return false
	}
	old := v.sub
	v.sub = nil
	v.gen++
	gen := v.gen
	v.sessionID = snap.SessionID
	v.role = role
	v.flipped = role == board.Black
	v.mu.Unlock()

	if old != nil {
		old.Close()
	}
	v.deliver(gen, snap)

	if v.channel == nil {
		return true
	}
	sub, err := v.channel.Subscribe(ctx, snap.SessionID, func(s snapshot.Snapshot) { v.deliver(gen, s) })
	if err != nil {
		v.logger.Warn("session_subscribe_failed", zap.String("session", snap.SessionID), zap.Error(err))
		return true
	}
	v.mu.Lock()
	if v.closed || v.gen != gen {
		v.mu.Unlock()
		sub.Close()
		return true
	}
	v.sub = sub
	v.mu.Unlock()
	return true
}

// Start creates a session and becomes its first side.
func (v *View) Start(ctx context.Context) (snapshot.Snapshot, error) {
	issued, closed := v.generation()
	if closed {
		return snapshot.Snapshot{}, ErrViewClosed
	}
	sess, err := v.actions.Create(ctx)
	v.resetSelection()
	if err != nil {
		v.report("start", err, "")
		return snapshot.Snapshot{}, err
	}
	if !v.adopt(ctx, issued, sess.Snapshot, sess.Side) {
		return snapshot.Snapshot{}, ErrViewClosed
	}
	v.logger.Info("session_start", zap.String("view", v.id), zap.String("session", sess.Snapshot.SessionID), zap.String("side", string(sess.Side)))
	v.notify("session.started", map[string]any{"SessionID": sess.Snapshot.SessionID, "Side": string(sess.Side)})
	return sess.Snapshot, nil
}

// Join attaches to an existing session as its second side.
func (v *View) Join(ctx context.Context, sessionID string) (snapshot.Snapshot, error) {
	sessionID = strings.TrimSpace(sessionID)
	issued, closed := v.generation()
	if closed {
		return snapshot.Snapshot{}, ErrViewClosed
	}
	if sessionID == "" {
		v.resetSelection()
		err := invalid("session id is empty")
		v.report("join", err, sessionID)
		return snapshot.Snapshot{}, err
	}
	sess, err := v.actions.Join(ctx, sessionID)
	v.resetSelection()
	if err != nil {
		v.report("join", err, sessionID)
		return snapshot.Snapshot{}, err
	}
	if !v.adopt(ctx, issued, sess.Snapshot, sess.Side) {
		return snapshot.Snapshot{}, ErrViewClosed
	}
	v.logger.Info("session_join", zap.String("view", v.id), zap.String("session", sess.Snapshot.SessionID), zap.String("side", string(sess.Side)))
	v.notify("session.joined", map[string]any{"SessionID": sess.Snapshot.SessionID, "Side": string(sess.Side)})
	return sess.Snapshot, nil
}

// Move submits a move on the active session. Legality is the authority's call.
func (v *View) Move(ctx context.Context, from, to board.Position, promotion *board.Kind) (snapshot.Snapshot, error) {
	return v.mutate(ctx, "move", func(id string) (snapshot.Snapshot, error) {
		if from == to {
			return snapshot.Snapshot{}, invalid("origin and destination are both %s", from)
		}
		return v.actions.Move(ctx, id, from, to, promotion)
	})
}

// Undo asks the authority to take back the last move.
func (v *View) Undo(ctx context.Context) (snapshot.Snapshot, error) {
	return v.mutate(ctx, "undo", func(id string) (snapshot.Snapshot, error) {
		return v.actions.Undo(ctx, id)
	})
}

func (v *View) mutate(ctx context.Context, op string, call func(id string) (snapshot.Snapshot, error)) (snapshot.Snapshot, error) {
	v.mu.Lock()
	closed, gen, id := v.closed, v.gen, v.sessionID
	v.mu.Unlock()
	if closed {
		return snapshot.Snapshot{}, ErrViewClosed
	}
	if id == "" {
		v.resetSelection()
		v.notify("session.none", nil)
		return snapshot.Snapshot{}, invalid("no active session")
	}

	snap, err := call(id)
	v.resetSelection()
	if err != nil {
		v.report(op, err, id)
		return snapshot.Snapshot{}, err
	}
	v.deliver(gen, snap)
	return snap, nil
}

// Click feeds a tile click into the selection machine and submits the move it
// completes, if any. It blocks for the duration of that request.
func (v *View) Click(ctx context.Context, p board.Position) (selection.State, error) {
	if v.SessionID() == "" {
		return selection.Idle, nil
	}
	mv, ok := v.machine.Click(p)
	v.settle()
	if !ok {
		return v.machine.State(), nil
	}
	_, err := v.Move(ctx, mv.From, mv.To, nil)
	return v.machine.State(), err
}

// Close cancels the subscription and closes the store. Late results are dropped.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.gen++
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	v.machine.Reset()
	v.store.Close()
	v.logger.Debug("session_view_closed", zap.String("view", v.id))
}

func (v *View) report(op string, err error, sessionID string) {
	key, data := describe(err, sessionID)
	v.logger.Info("session_action_failed", zap.String("op", op), zap.String("session", sessionID), zap.Error(err))
	v.notify(key, data)
}

func (v *View) notify(key string, data map[string]any) {
	if v.notifier == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	msg := v.catalog.Text(key, data, key)
	v.notifier.Notify(msg)
}

// highlight mirrors the machine's selected square for rendering. The machine
// calls it while holding its own lock, so it only records the change; the view
// redraws once the machine call has returned.
type highlight struct {
	mu    sync.Mutex
	pos   *board.Position
	dirty bool
}

func (h *highlight) Select(p board.Position) {
	h.mu.Lock()
	h.pos = &p
	h.dirty = true
	h.mu.Unlock()
}

func (h *highlight) Clear(board.Position) {
	h.mu.Lock()
	h.pos = nil
	h.dirty = true
	h.mu.Unlock()
}

// takeDirty reports whether the highlight changed since the last call.
func (h *highlight) takeDirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.dirty
	h.dirty = false
	return d
}

func (h *highlight) current() *board.Position {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pos == nil {
		return nil
	}
	p := *h.pos
	return &p
}
