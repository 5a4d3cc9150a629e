package server

import (
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"

	"aviator/internal/cache"
	"aviator/internal/config"
	"aviator/internal/database"
	"aviator/internal/game"
)

// FiberServer wires the fiber app to the round actor, the socket hub,
// and the infra services the health endpoint reports on.
type FiberServer struct {
	*fiber.App

	cfg           *config.Config
	db            database.Service
	cache         cache.Service
	engine        *game.Engine
	hub           *game.Hub
	seeds         *game.SeedStore
	bus           *game.EventBus
	historyMirror *game.HistoryMirror
}

// New builds a FiberServer around already-constructed collaborators;
// main() owns wiring concrete implementations (pgx pool, redis client,
// the running Engine) and passes them in here. historyMirror may be
// nil — the history endpoint falls back to the engine's in-process
// ring when no Redis mirror is attached.
func New(cfg *config.Config, db database.Service, c cache.Service, engine *game.Engine, hub *game.Hub, seeds *game.SeedStore, bus *game.EventBus, historyMirror *game.HistoryMirror) *FiberServer {
	return &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader: "aviator",
			AppName:      "aviator",
		}),
		cfg:           cfg,
		db:            db,
		cache:         c,
		engine:        engine,
		hub:           hub,
		seeds:         seeds,
		bus:           bus,
		historyMirror: historyMirror,
	}
}

// RunBroadcastBridge forwards every broadcast-topic event the engine
// publishes onto the socket hub, as {"type": ..., "data": ...} frames.
// Call it in its own goroutine alongside hub.Run(); it never returns.
func (s *FiberServer) RunBroadcastBridge() {
	ch := s.bus.Subscribe(game.TopicBroadcast)
	for event := range ch {
		frame, err := json.Marshal(wsOk{Success: true, Type: string(event.Type), Data: event.Data})
		if err != nil {
			log.Printf("[bridge] marshal %s: %v", event.Type, err)
			continue
		}
		s.hub.Broadcast(frame)
	}
}

// RunUserBridge forwards a single user's private-topic events (balance
// updates) onto their primary socket. The Gateway calls this once per
// authenticated connection, in its own goroutine, and cancels it on
// disconnect by unsubscribing via the returned stop func.
func (s *FiberServer) RunUserBridge(userID string) (stop func()) {
	ch := s.bus.Subscribe(userID)
	go func() {
		for event := range ch {
			frame, err := json.Marshal(wsOk{Success: true, Type: string(event.Type), Data: event.Data})
			if err != nil {
				log.Printf("[bridge] marshal %s for user %s: %v", event.Type, userID, err)
				continue
			}
			s.hub.SendToUser(userID, frame)
		}
	}()
	return func() { s.bus.Unsubscribe(userID, ch) }
}
