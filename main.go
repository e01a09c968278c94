package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	cfg := LoadConfig()
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	history := NewHistory(db)
	defer history.Stop()

	auth := NewAuth(db)

	registry := NewRegistry(RegistryConfig{
		ReconnectGrace: cfg.ReconnectGrace,
		Engine: EngineConfig{
			MaxScore:         cfg.MaxScore,
			CountdownSeconds: cfg.CountdownSeconds,
		},
	})
	registry.SetRecorder(history)

	hub := NewHub(registry, history)
	registry.SetMatchListUpdateCallback(func(matches []MatchResponse) {
		hub.BroadcastEvent(EvtMatchesUpdated, MatchListMsg{Matches: matches})
	})
	go hub.Run()

	sched, err := StartJanitor(registry, db, cfg)
	if err != nil {
		log.Fatalf("start janitor: %v", err)
	}
	defer sched.Shutdown()

	router := SetupRoutes(hub, registry, auth, db, cfg)
	// No read/write timeouts: the ws endpoint holds connections open and
	// does its own heartbeat.
	server := &http.Server{Addr: cfg.Addr, Handler: router}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
}
