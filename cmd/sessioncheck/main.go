package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/park285/cheese-board-client/internal/authority"
	appcfg "github.com/park285/cheese-board-client/internal/config"
	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/internal/snapshot"
	"github.com/park285/cheese-board-client/internal/syncchan"
)

func main() {
	sessionID := flag.String("session", "", "session id to inspect")
	window := flag.Duration("watch", 10*time.Second, "how long to observe the sync channel")
	flag.Parse()

	_ = godotenv.Load()
	_ = obslog.InitFromEnv("logs/sessioncheck.log")

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if *sessionID == "" {
		log.Fatal("-session is required")
	}

	client := authority.NewClient(cfg.AuthorityBaseURL,
		authority.WithHeaderProvider(cfg.Headers),
		authority.WithTimeout(cfg.RequestTimeout),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := client.Read(ctx, *sessionID)
	if err != nil {
		log.Printf("read error: %v", err)
	} else {
		log.Printf("read ok: session=%s status=%s turn=%s pieces=%d fen=%s",
			snap.SessionID, snap.Status, snap.CurrentTurn, snap.Board.Len(), snap.Board.FEN())
	}

	var channel syncchan.Channel
	if cfg.SyncStrategy == appcfg.StrategyPushed && cfg.PushTransport == appcfg.TransportWS {
		ws := syncchan.NewWebSocketTransport(cfg.AuthorityWSURL, cfg.WSReconnectAttempts, obslog.L())
		ws.SetHeaderProvider(cfg.Headers)
		cbID := ws.OnStateChange(func(state syncchan.WebSocketState) {
			log.Printf("ws state: %s", state)
		})
		defer ws.RemoveStateCallback(cbID)
		channel = syncchan.NewPusher(ws, obslog.L())
	} else {
		channel, err = syncchan.New(cfg, client, obslog.L())
		if err != nil {
			log.Fatalf("sync channel error: %v", err)
		}
	}
	defer func() { _ = channel.Close() }()

	sub, err := channel.Subscribe(context.Background(), *sessionID, func(s snapshot.Snapshot) {
		log.Printf("%s delivery: status=%s turn=%s fen=%s", channel.Strategy(), s.Status, s.CurrentTurn, s.Board.FEN())
	})
	if err != nil {
		log.Printf("subscribe error: %v", err)
		return
	}

	t := time.NewTimer(*window)
	<-t.C
	sub.Close()
}
