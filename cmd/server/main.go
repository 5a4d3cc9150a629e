package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aviator/internal/cache"
	"aviator/internal/config"
	"aviator/internal/database"
	"aviator/internal/game"
	"aviator/internal/persistence"
	"aviator/internal/server"
	"aviator/internal/wallet"
)

func main() {
	cfg := config.Load()

	db := database.New()
	c := cache.New()

	pool := db.Pool()
	walletStore := wallet.New(pool)
	persistenceStore := persistence.New(pool)

	seeds := game.NewSeedStore()
	bus := game.NewEventBus()
	engine := game.NewEngine(cfg, bus, walletStore, persistenceStore, seeds)
	hub := game.NewHub([]byte(cfg.JWTSecret))

	var historyMirror *game.HistoryMirror
	if c != nil {
		historyMirror = game.NewHistoryMirror(c.GetClient(), cfg.MaxHistory)
		engine.SetHistoryMirror(historyMirror)
	}

	srv := server.New(cfg, db, c, engine, hub, seeds, bus, historyMirror)
	srv.RegisterFiberRoutes()

	go hub.Run()
	go srv.RunBroadcastBridge()
	engine.Start()

	addr := ":" + getEnv("PORT", "8080")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("aviator listening on %s", addr)
		if err := srv.Listen(addr); err != nil {
			log.Printf("server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("fiber shutdown error: %v", err)
	}

	engine.Stop()
	if c != nil {
		c.Close()
	}
	db.Close()
	log.Println("server stopped cleanly")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
