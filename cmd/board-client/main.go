package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/park285/cheese-board-client/internal/authority"
	"github.com/park285/cheese-board-client/internal/board"
	appcfg "github.com/park285/cheese-board-client/internal/config"
	"github.com/park285/cheese-board-client/internal/msgcat"
	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/internal/render"
	"github.com/park285/cheese-board-client/internal/session"
	"github.com/park285/cheese-board-client/internal/syncchan"
)

const usage = `commands:
  start                      create a session (you play first)
  join <id>                  join a session (you play second)
  click <pos>                click a square, e.g. click E2
  move <from> <to> [promo]   submit a move, e.g. move A7 A8 Q
  undo                       take back the last move
  show                       redraw the board
  fen                        print the board placement as FEN
  quit                       leave`

func main() {
	_ = godotenv.Load()
	if err := obslog.InitFromEnv("logs/board-client.log"); err != nil {
		log.Printf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages error: %v", err)
	}

	client := authority.NewClient(cfg.AuthorityBaseURL,
		authority.WithHeaderProvider(cfg.Headers),
		authority.WithTimeout(cfg.RequestTimeout),
	)
	channel, err := syncchan.New(cfg, client, logger)
	if err != nil {
		log.Fatalf("sync channel error: %v", err)
	}
	defer func() { _ = channel.Close() }()

	renderers := render.Multi{render.NewTextRenderer(os.Stdout, cat)}
	if cfg.BoardPNGPath != "" {
		renderers = append(renderers, render.NewPNGRenderer(cfg.BoardPNGPath, 0, logger))
	}
	view := session.NewView(session.Options{
		Actions:  client,
		Channel:  channel,
		Renderer: renderers,
		Notifier: session.NotifierFunc(func(msg string) { fmt.Println(msg) }),
		Catalog:  cat,
		Logger:   logger,
	})
	defer view.Close()

	logger.Info("board_client_start",
		zap.String("authority", cfg.AuthorityBaseURL),
		zap.String("strategy", cfg.SyncStrategy),
		zap.String("client_id", cfg.ClientID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Println(usage)
	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !dispatch(ctx, view, renderers, cat, strings.Fields(line)) {
				fmt.Println(cat.Text("session.closed", nil, "bye"))
				return
			}
		}
	}
}

// dispatch runs one REPL command. It returns false on quit.
func dispatch(ctx context.Context, v *session.View, r session.Renderer, cat *msgcat.Catalog, args []string) bool {
	if len(args) == 0 {
		return true
	}
	switch strings.ToLower(args[0]) {
	case "quit", "exit", "q":
		return false
	case "start":
		_, _ = v.Start(ctx)
	case "join":
		id := ""
		if len(args) > 1 {
			id = args[1]
		}
		_, _ = v.Join(ctx, id)
	case "click":
		if len(args) < 2 {
			fmt.Println(usage)
			return true
		}
		p, err := board.ParsePosition(strings.ToUpper(args[1]))
		if err != nil {
			fmt.Println(cat.Text("errors.validation", map[string]any{"Reason": err.Error()}, err.Error()))
			return true
		}
		_, _ = v.Click(ctx, p)
	case "move":
		if len(args) < 3 {
			fmt.Println(usage)
			return true
		}
		from, ferr := board.ParsePosition(strings.ToUpper(args[1]))
		to, terr := board.ParsePosition(strings.ToUpper(args[2]))
		if ferr != nil || terr != nil {
			fmt.Println(cat.Text("errors.validation", map[string]any{"Reason": "bad square"}, "bad square"))
			return true
		}
		var promo *board.Kind
		if len(args) > 3 {
			k, err := board.ParseKind(args[3])
			if err != nil {
				fmt.Println(cat.Text("errors.validation", map[string]any{"Reason": err.Error()}, err.Error()))
				return true
			}
			promo = &k
		}
		_, _ = v.Move(ctx, from, to, promo)
	case "undo":
		_, _ = v.Undo(ctx)
	case "show":
		if f, ok := v.Frame(); ok {
			r.Render(f)
		} else {
			fmt.Println(cat.Text("session.none", nil, "no session"))
		}
	case "fen":
		if cur, ok := v.Current(); ok {
			fmt.Println(cur.Board.FEN())
		} else {
			fmt.Println(cat.Text("session.none", nil, "no session"))
		}
	default:
		fmt.Println(usage)
	}
	return true
}
