package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/pkg/boarddto"
)

// inmemAuthority serves handler over an in-memory listener and returns a client dialing it.
func inmemAuthority(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	return NewClient("http://authority.test", WithDial(func(string) (net.Conn, error) { return ln.Dial() }))
}

func TestUndoOverInmemoryListener(t *testing.T) {
	c := inmemAuthority(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/games/7/undo" || !ctx.IsPost() {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		body, _ := json.Marshal(boarddto.Snapshot{
			SessionID:   "7",
			Status:      "ACTIVE",
			CurrentTurn: "WHITE",
			Board:       map[string]string{"E1": "K", "E8": "k"},
		})
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	})

	snap, err := c.Undo(context.Background(), "7")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if snap.CurrentTurn != board.White || snap.Board.Len() != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestUndoRejectionOverInmemoryListener(t *testing.T) {
	c := inmemAuthority(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"code":"NOTHING_TO_UNDO","message":"no moves"}`)
	})

	_, err := c.Undo(context.Background(), "7")
	if !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected nothing-to-undo, got %v", err)
	}
	if IsTransport(err) {
		t.Fatalf("rejection must not be a transport error")
	}
}
