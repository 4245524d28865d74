package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-board-client/internal/authority"
	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/internal/snapshot"
	"github.com/park285/cheese-board-client/internal/syncchan"
)

var (
	e1 = board.MustPosition("E1")
	e2 = board.MustPosition("E2")
	e4 = board.MustPosition("E4")
	e8 = board.MustPosition("E8")
)

func opening(id string) snapshot.Snapshot {
	return snapshot.Snapshot{
		SessionID:   id,
		Status:      snapshot.StatusActive,
		CurrentTurn: board.White,
		Board:       board.NewBoard(map[board.Position]board.Symbol{e1: 'K', e2: 'P', e8: 'k'}),
	}
}

func afterE4(id string) snapshot.Snapshot {
	return snapshot.Snapshot{
		SessionID:   id,
		Status:      snapshot.StatusActive,
		CurrentTurn: board.Black,
		Board:       board.NewBoard(map[board.Position]board.Symbol{e1: 'K', e4: 'P', e8: 'k'}),
	}
}

type fakeActions struct {
	mu      sync.Mutex
	moves   []string
	joins   int
	moveErr error
	gate    chan struct{}
}

func (f *fakeActions) Create(ctx context.Context) (*authority.Session, error) {
	return &authority.Session{Snapshot: opening("1"), Side: board.White}, nil
}

func (f *fakeActions) Join(ctx context.Context, id string) (*authority.Session, error) {
	f.mu.Lock()
	f.joins++
	f.mu.Unlock()
	if id == "404" {
		return nil, &authority.Rejection{Code: authority.CodeNotFound, Message: "Game not found", Status: 404}
	}
	return &authority.Session{Snapshot: opening(id), Side: board.Black}, nil
}

func (f *fakeActions) Move(ctx context.Context, id string, from, to board.Position, promo *board.Kind) (snapshot.Snapshot, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.moves = append(f.moves, from.String()+to.String())
	err := f.moveErr
	f.mu.Unlock()
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return afterE4(id), nil
}

func (f *fakeActions) Undo(ctx context.Context, id string) (snapshot.Snapshot, error) {
	return snapshot.Snapshot{}, &authority.Rejection{Code: authority.CodeNothingToUndo, Message: "nothing", Status: 400}
}

// manualChannel lets tests push snapshots into any sink ever registered.
type manualChannel struct {
	mu    sync.Mutex
	sinks map[string][]syncchan.Sink
}

type manualSub struct {
	id   string
	done chan struct{}
	once sync.Once
}

func (s *manualSub) SessionID() string      { return s.id }
func (s *manualSub) Done() <-chan struct{} { return s.done }
func (s *manualSub) Close()                { s.once.Do(func() { close(s.done) }) }

func (c *manualChannel) Strategy() syncchan.Strategy { return syncchan.Pushed }
func (c *manualChannel) Close() error                { return nil }

func (c *manualChannel) Subscribe(ctx context.Context, id string, sink syncchan.Sink) (syncchan.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sinks == nil {
		c.sinks = map[string][]syncchan.Sink{}
	}
	c.sinks[id] = append(c.sinks[id], sink)
	return &manualSub{id: id, done: make(chan struct{})}, nil
}

func (c *manualChannel) push(id string, s snapshot.Snapshot) {
	c.mu.Lock()
	sinks := append([]syncchan.Sink(nil), c.sinks[id]...)
	c.mu.Unlock()
	for _, sink := range sinks {
		sink(s)
	}
}

type recorder struct {
	mu     sync.Mutex
	frames []Frame
	msgs   []string
}

func (r *recorder) Render(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) Notify(m string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) lastMsg() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return ""
	}
	return r.msgs[len(r.msgs)-1]
}

func newTestView(a Actions, ch syncchan.Channel) (*View, *recorder) {
	rec := &recorder{}
	v := NewView(Options{Actions: a, Channel: ch, Renderer: rec, Notifier: rec, Logger: zap.NewNop()})
	return v, rec
}

func TestStartIsWhiteAndUnflipped(t *testing.T) {
	v, rec := newTestView(&fakeActions{}, &manualChannel{})
	defer v.Close()

	if _, err := v.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if v.Role() != board.White || v.Flipped() {
		t.Fatalf("role=%s flipped=%v", v.Role(), v.Flipped())
	}
	if _, ok := v.Current(); !ok {
		t.Fatalf("store should hold the created snapshot")
	}
	if len(rec.frames) == 0 {
		t.Fatalf("expected a render")
	}
	if !strings.Contains(rec.lastMsg(), "Session 1 created") {
		t.Fatalf("msg = %q", rec.lastMsg())
	}
}

func TestJoinIsBlackAndFlipped(t *testing.T) {
	v, _ := newTestView(&fakeActions{}, &manualChannel{})
	defer v.Close()

	if _, err := v.Join(context.Background(), " 7 "); err != nil {
		t.Fatalf("join: %v", err)
	}
	if v.Role() != board.Black || !v.Flipped() || v.SessionID() != "7" {
		t.Fatalf("role=%s flipped=%v id=%s", v.Role(), v.Flipped(), v.SessionID())
	}
}

func TestJoinEmptyIsValidationWithoutRequest(t *testing.T) {
	a := &fakeActions{}
	v, rec := newTestView(a, nil)
	defer v.Close()

	_, err := v.Join(context.Background(), "  ")
	if !IsValidation(err) {
		t.Fatalf("err = %v", err)
	}
	if a.joins != 0 {
		t.Fatalf("no request expected")
	}
	if !strings.HasPrefix(rec.lastMsg(), "Invalid input") {
		t.Fatalf("msg = %q", rec.lastMsg())
	}
}

func TestJoinNotFoundLeavesViewEmpty(t *testing.T) {
	v, rec := newTestView(&fakeActions{}, nil)
	defer v.Close()

	_, err := v.Join(context.Background(), "404")
	if !errors.Is(err, authority.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := v.Current(); ok || v.SessionID() != "" {
		t.Fatalf("view should stay empty")
	}
	if rec.lastMsg() != "Session 404 does not exist." {
		t.Fatalf("msg = %q", rec.lastMsg())
	}
}

func TestClickSequenceSubmitsMove(t *testing.T) {
	a := &fakeActions{}
	v, rec := newTestView(a, &manualChannel{})
	defer v.Close()
	if _, err := v.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	st, err := v.Click(context.Background(), e2)
	if err != nil || st.IsIdle() {
		t.Fatalf("first click: state=%s err=%v", st, err)
	}
	if f := rec.frames[len(rec.frames)-1]; f.Selected == nil || *f.Selected != e2 {
		t.Fatalf("selected square not rendered: %+v", f.Selected)
	}

	st, err = v.Click(context.Background(), e4)
	if err != nil || !st.IsIdle() {
		t.Fatalf("second click: state=%s err=%v", st, err)
	}
	if len(a.moves) != 1 || a.moves[0] != "E2E4" {
		t.Fatalf("moves = %v", a.moves)
	}
	cur, _ := v.Current()
	if cur.Board.Occupied(e2) || !cur.Board.Occupied(e4) || cur.CurrentTurn != board.Black {
		t.Fatalf("store not updated: %+v", cur)
	}
}

func TestClickEmptyAndSameSquare(t *testing.T) {
	a := &fakeActions{}
	v, _ := newTestView(a, nil)
	defer v.Close()
	_, _ = v.Start(context.Background())

	if st, _ := v.Click(context.Background(), e4); !st.IsIdle() {
		t.Fatalf("empty square must not select")
	}
	_, _ = v.Click(context.Background(), e2)
	if st, _ := v.Click(context.Background(), e2); !st.IsIdle() {
		t.Fatalf("same square must cancel")
	}
	if len(a.moves) != 0 {
		t.Fatalf("no move expected: %v", a.moves)
	}
}

func TestRejectedMoveResetsSelectionAndKeepsSnapshot(t *testing.T) {
	a := &fakeActions{moveErr: &authority.Rejection{Code: authority.CodeIllegalMove, Message: "Illegal move", Status: 400}}
	v, rec := newTestView(a, nil)
	defer v.Close()
	_, _ = v.Start(context.Background())
	before, _ := v.Current()

	_, _ = v.Click(context.Background(), e2)
	st, err := v.Click(context.Background(), e4)
	if !errors.Is(err, authority.ErrIllegalMove) {
		t.Fatalf("err = %v", err)
	}
	if !st.IsIdle() {
		t.Fatalf("selection must reset after failure")
	}
	after, _ := v.Current()
	if !after.Equal(before) {
		t.Fatalf("snapshot changed on rejection")
	}
	if rec.lastMsg() != "The move was rejected: Illegal move" {
		t.Fatalf("msg = %q", rec.lastMsg())
	}
}

func TestSameSquareMoveIsValidation(t *testing.T) {
	a := &fakeActions{}
	v, _ := newTestView(a, nil)
	defer v.Close()
	_, _ = v.Start(context.Background())

	if _, err := v.Move(context.Background(), e2, e2, nil); !IsValidation(err) {
		t.Fatalf("err = %v", err)
	}
	if len(a.moves) != 0 {
		t.Fatalf("no request expected")
	}
}

func TestMoveWithoutSession(t *testing.T) {
	v, rec := newTestView(&fakeActions{}, nil)
	defer v.Close()
	if _, err := v.Undo(context.Background()); !IsValidation(err) {
		t.Fatalf("err = %v", err)
	}
	if !strings.HasPrefix(rec.lastMsg(), "No active session") {
		t.Fatalf("msg = %q", rec.lastMsg())
	}
}

func TestUndoNothingToUndo(t *testing.T) {
	v, rec := newTestView(&fakeActions{}, nil)
	defer v.Close()
	_, _ = v.Start(context.Background())
	if _, err := v.Undo(context.Background()); !errors.Is(err, authority.ErrNothingToUndo) {
		t.Fatalf("err = %v", err)
	}
	if rec.lastMsg() != "There is no move to undo." {
		t.Fatalf("msg = %q", rec.lastMsg())
	}
}

func TestPushedSnapshotResetsSelection(t *testing.T) {
	ch := &manualChannel{}
	v, _ := newTestView(&fakeActions{}, ch)
	defer v.Close()
	_, _ = v.Start(context.Background())
	_, _ = v.Click(context.Background(), e2)

	ch.push("1", afterE4("1"))
	if !v.Selection().IsIdle() {
		t.Fatalf("selection must reset on snapshot")
	}
	cur, _ := v.Current()
	if cur.CurrentTurn != board.Black {
		t.Fatalf("pushed snapshot not stored")
	}
}

func TestStaleSessionDeliveriesDropped(t *testing.T) {
	ch := &manualChannel{}
	v, _ := newTestView(&fakeActions{}, ch)
	defer v.Close()
	_, _ = v.Start(context.Background())
	if _, err := v.Join(context.Background(), "2"); err != nil {
		t.Fatalf("join: %v", err)
	}

	ch.push("1", afterE4("1"))
	cur, _ := v.Current()
	if cur.SessionID != "2" {
		t.Fatalf("old session leaked into view: %s", cur.SessionID)
	}
}

func TestInFlightMoveDiscardedAfterClose(t *testing.T) {
	a := &fakeActions{}
	v, _ := newTestView(a, nil)
	_, _ = v.Start(context.Background())
	before, _ := v.Current()

	a.gate = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = v.Move(context.Background(), e2, e4, nil)
	}()
	v.Close()
	close(a.gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("move did not return")
	}

	cur, _ := v.Current()
	if !cur.Equal(before) {
		t.Fatalf("late result applied after close")
	}
	if _, err := v.Start(context.Background()); !errors.Is(err, ErrViewClosed) {
		t.Fatalf("err = %v", err)
	}
}

type flakyReader struct {
	mu    sync.Mutex
	calls int
}

func (r *flakyReader) Read(ctx context.Context, id string) (snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= 2 {
		return snapshot.Snapshot{}, &authority.TransportError{Op: "GET", Err: errors.New("connection refused")}
	}
	return afterE4(id), nil
}

func TestPollingRecoversFromFailures(t *testing.T) {
	r := &flakyReader{}
	poller := syncchan.NewPoller(r, 5*time.Millisecond, zap.NewNop())
	defer poller.Close()
	v, rec := newTestView(&fakeActions{}, poller)
	defer v.Close()
	_, _ = v.Start(context.Background())
	startMsgs := len(rec.msgs)

	deadline := time.Now().Add(2 * time.Second)
	for {
		cur, _ := v.Current()
		if cur.CurrentTurn == board.Black {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("polling never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.msgs) != startMsgs {
		t.Fatalf("poll failures must not surface to the user: %v", rec.msgs[startMsgs:])
	}
}

func TestViewsAreIndependent(t *testing.T) {
	a, _ := newTestView(&fakeActions{}, nil)
	b, _ := newTestView(&fakeActions{}, nil)
	defer a.Close()
	defer b.Close()
	_, _ = a.Start(context.Background())
	_, _ = b.Join(context.Background(), "1")

	_, _ = a.Click(context.Background(), e2)
	if !b.Selection().IsIdle() {
		t.Fatalf("selection leaked between views")
	}
	if a.Role() == b.Role() {
		t.Fatalf("roles should differ")
	}
}

// pushTransport is an in-process syncchan.Transport keyed by session id.
type pushTransport struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	subs     int
	unsubs   int
}

func (p *pushTransport) Subscribe(ctx context.Context, id string, h func([]byte)) (func() error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers == nil {
		p.handlers = map[string]func([]byte){}
	}
	p.handlers[id] = h
	p.subs++
	return func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, id)
		p.unsubs++
		return nil
	}, nil
}

func (p *pushTransport) Close() error { return nil }

func (p *pushTransport) push(t *testing.T, s snapshot.Snapshot) {
	t.Helper()
	raw, err := json.Marshal(s.Wire())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p.mu.Lock()
	h := p.handlers[s.SessionID]
	p.mu.Unlock()
	if h != nil {
		h(raw)
	}
}

func turnOf(v *View) board.Side {
	cur, _ := v.Current()
	return cur.CurrentTurn
}

func TestViewsShareOnePusher(t *testing.T) {
	tr := &pushTransport{}
	pusher := syncchan.NewPusher(tr, zap.NewNop())
	defer pusher.Close()
	a, _ := newTestView(&fakeActions{}, pusher)
	b, _ := newTestView(&fakeActions{}, pusher)
	defer a.Close()

	if _, err := a.Join(context.Background(), "7"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := b.Join(context.Background(), "7"); err != nil {
		t.Fatalf("join b: %v", err)
	}
	if tr.subs != 1 {
		t.Fatalf("transport subs = %d, want 1", tr.subs)
	}

	tr.push(t, afterE4("7"))
	if turnOf(a) != board.Black || turnOf(b) != board.Black {
		t.Fatalf("after push: a=%s b=%s", turnOf(a), turnOf(b))
	}

	b.Close()
	tr.push(t, opening("7"))
	if turnOf(a) != board.White {
		t.Fatalf("closing one view cut the other's feed: a=%s", turnOf(a))
	}
	if tr.unsubs != 0 {
		t.Fatalf("transport unsubscribed while a view still follows the session")
	}
}

func (r *recorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestSnapshotWhileSelectedRendersOnce(t *testing.T) {
	ch := &manualChannel{}
	v, rec := newTestView(&fakeActions{}, ch)
	defer v.Close()
	_, _ = v.Start(context.Background())

	before := rec.frameCount()
	_, _ = v.Click(context.Background(), e2)
	if got := rec.frameCount(); got != before+1 {
		t.Fatalf("select rendered %d frames, want 1", got-before)
	}

	before = rec.frameCount()
	ch.push("1", afterE4("1"))
	if got := rec.frameCount(); got != before+1 {
		t.Fatalf("snapshot rendered %d frames, want 1", got-before)
	}
	rec.mu.Lock()
	last := rec.frames[len(rec.frames)-1]
	rec.mu.Unlock()
	if last.Selected != nil {
		t.Fatalf("selection still drawn after snapshot")
	}
}

func TestRendererMayQueryView(t *testing.T) {
	ch := &manualChannel{}
	var v *View
	var states []string
	var mu sync.Mutex
	v = NewView(Options{
		Actions: &fakeActions{},
		Channel: ch,
		Renderer: RendererFunc(func(Frame) {
			st := v.Selection()
			mu.Lock()
			states = append(states, st.String())
			mu.Unlock()
		}),
		Logger: zap.NewNop(),
	})
	defer v.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = v.Start(context.Background())
		_, _ = v.Click(context.Background(), e2)
		ch.push("1", afterE4("1"))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("renderer querying the view deadlocked")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) < 3 || states[1] != "Selected(E2)" || states[len(states)-1] != "Idle" {
		t.Fatalf("states = %v", states)
	}
}
