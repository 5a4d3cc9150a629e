package server

import (
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/shopspring/decimal"

	"aviator/internal/game"
)

// RegisterFiberRoutes wires every REST and websocket route the
// Gateway exposes.
func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")
	api.Get("/game/state", s.getGameStateHandler)
	api.Get("/game/history", s.getGameHistoryHandler)

	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("token", c.Query("token"))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.ClientCount(),
		},
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) getGameStateHandler(c *fiber.Ctx) error {
	view, ok := s.engine.CurrentView()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no active round"})
	}
	return c.JSON(view)
}

func (s *FiberServer) getGameHistoryHandler(c *fiber.Ctx) error {
	if s.historyMirror != nil {
		if mirrored := s.historyMirror.Recent(c.Context(), s.cfg.MaxHistory); len(mirrored) > 0 {
			return c.JSON(mirrored)
		}
	}
	return c.JSON(s.engine.History())
}

// wsMessage is the union of every inbound op's fields; each handler
// reads only the fields its own op defines.
type wsMessage struct {
	Type          string       `json:"type"`
	Token         string       `json:"token"`
	Amount        *json.Number `json:"amount"`
	AutoCashoutAt *json.Number `json:"autoCashoutAt"`
	Slot          int          `json:"slot"`
	AtMultiplier  *json.Number `json:"atMultiplier"`
	ClientSeed    string       `json:"clientSeed"`
	ServerSeed    string       `json:"serverSeed"`
	Nonce         int          `json:"nonce"`
	Variant       string       `json:"variant"`
	Room          string       `json:"room"`
	Message       string       `json:"message"`
}

type wsOk struct {
	Success bool        `json:"success"`
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
}

type wsErr struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// gameWebSocketHandler is the single entrypoint for every authenticated
// and guest connection. It never drops a connection on a bad auth
// token — it simply keeps the socket at GUEST and notifies the client.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	token, _ := conn.Locals("token").(string)

	client := s.hub.RegisterClient(conn, "", game.RoleGuest)
	defer s.hub.UnregisterClient(client)

	var stopUserBridge func()
	defer func() {
		if stopUserBridge != nil {
			stopUserBridge()
		}
	}()

	if token != "" {
		if s.hub.Authenticate(client, token) {
			stopUserBridge = s.RunUserBridge(client.UserID())
		} else {
			client.WriteJSON(wsErr{Error: "AUTH_REQUIRED"})
		}
	}

	s.sendInitialState(client)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			client.WriteJSON(wsErr{Error: "invalid message"})
			continue
		}

		wasAuthenticated := client.Authenticated()
		s.handleInbound(client, msg)
		if !wasAuthenticated && client.Authenticated() {
			stopUserBridge = s.RunUserBridge(client.UserID())
		}
	}
}

func (s *FiberServer) sendInitialState(client *game.Client) {
	if view, ok := s.engine.CurrentView(); ok {
		client.WriteJSON(wsOk{Success: true, Type: "state_change", Data: game.StateChangeEvent{State: view.State, Round: view}})
	}
	client.WriteJSON(wsOk{Success: true, Type: "history_update", Data: s.engine.History()})
}

func (s *FiberServer) handleInbound(client *game.Client, msg wsMessage) {
	switch msg.Type {
	case "authenticate":
		s.handleAuthenticate(client, msg)
	case "place_bet":
		s.handlePlaceBet(client, msg)
	case "cashout":
		s.handleCashout(client, msg)
	case "set_client_seed":
		s.handleSetClientSeed(client, msg)
	case "rotate_seed":
		s.handleRotateSeed(client)
	case "get_seed_info":
		s.handleGetSeedInfo(client)
	case "verify":
		s.handleVerify(client, msg)
	case "chat_join", "chat_send":
		// Acknowledged for client compatibility; this engine has no
		// persisted chat rooms or moderation, so joins/sends are no-ops.
		client.WriteJSON(wsOk{Success: true, Type: msg.Type})
	case "ping":
		client.WriteJSON(wsOk{Success: true, Type: "pong"})
	default:
		client.WriteJSON(wsErr{Error: "unknown op"})
	}
}

func (s *FiberServer) handleAuthenticate(client *game.Client, msg wsMessage) {
	if ok := s.hub.Authenticate(client, msg.Token); !ok {
		client.WriteJSON(wsErr{Error: "AUTH_REQUIRED"})
		return
	}
	client.WriteJSON(wsOk{Success: true, Type: "authenticate"})
}

func (s *FiberServer) handlePlaceBet(client *game.Client, msg wsMessage) {
	if !client.Authenticated() {
		client.WriteJSON(wsErr{Error: string(game.ErrAuthRequired)})
		return
	}
	if msg.Amount == nil {
		client.WriteJSON(wsErr{Error: "invalid amount"})
		return
	}
	amount, err := decimal.NewFromString(msg.Amount.String())
	if err != nil {
		client.WriteJSON(wsErr{Error: "invalid amount"})
		return
	}

	var autoTarget *decimal.Decimal
	if msg.AutoCashoutAt != nil {
		target, err := decimal.NewFromString(msg.AutoCashoutAt.String())
		if err != nil {
			client.WriteJSON(wsErr{Error: "invalid autoCashoutAt"})
			return
		}
		autoTarget = &target
	}

	slot := msg.Slot
	if slot == 0 {
		slot = 1
	}

	result := s.engine.PlaceBet(game.PlaceBetRequest{
		UserID:            client.UserID(),
		Amount:            amount,
		AutoCashoutTarget: autoTarget,
		Slot:              slot,
		Currency:          "USD",
	})
	if result.Error != game.ErrNone {
		client.WriteJSON(wsErr{Error: string(result.Error)})
		return
	}
	client.WriteJSON(wsOk{Success: true, Type: "place_bet", Data: result.Bet})
}

func (s *FiberServer) handleCashout(client *game.Client, msg wsMessage) {
	if !client.Authenticated() {
		client.WriteJSON(wsErr{Error: string(game.ErrAuthRequired)})
		return
	}

	slot := msg.Slot
	if slot == 0 {
		slot = 1
	}

	var claimed *decimal.Decimal
	if msg.AtMultiplier != nil {
		m, err := decimal.NewFromString(msg.AtMultiplier.String())
		if err != nil {
			client.WriteJSON(wsErr{Error: "invalid atMultiplier"})
			return
		}
		claimed = &m
	}

	result := s.engine.Cashout(game.CashoutRequest{
		UserID:            client.UserID(),
		Slot:              slot,
		ClaimedMultiplier: claimed,
		Manual:            true,
	})
	if result.Error != game.ErrNone {
		client.WriteJSON(wsErr{Error: string(result.Error)})
		return
	}
	client.WriteJSON(wsOk{Success: true, Type: "cashout", Data: fiber.Map{
		"multiplier": result.Multiplier.StringFixed(2),
		"payout":     result.Payout.String(),
		"profit":     result.Profit.String(),
	}})
}

func (s *FiberServer) handleSetClientSeed(client *game.Client, msg wsMessage) {
	if !client.Authenticated() {
		client.WriteJSON(wsErr{Error: string(game.ErrAuthRequired)})
		return
	}
	if errCode := s.seeds.SetClientSeed(client.UserID(), msg.ClientSeed); errCode != game.ErrNone {
		client.WriteJSON(wsErr{Error: string(errCode)})
		return
	}
	client.WriteJSON(wsOk{Success: true, Type: "set_client_seed"})
}

func (s *FiberServer) handleRotateSeed(client *game.Client) {
	if !client.Authenticated() {
		client.WriteJSON(wsErr{Error: string(game.ErrAuthRequired)})
		return
	}
	result := s.seeds.RotateSeed(client.UserID())
	client.WriteJSON(wsOk{Success: true, Type: "rotate_seed", Data: result})
}

func (s *FiberServer) handleGetSeedInfo(client *game.Client) {
	if !client.Authenticated() {
		client.WriteJSON(wsErr{Error: string(game.ErrAuthRequired)})
		return
	}
	commitment, nonce := s.seeds.GetSeedInfo(client.UserID())
	client.WriteJSON(wsOk{Success: true, Type: "get_seed_info", Data: fiber.Map{"commitment": commitment, "nonce": nonce}})
}

func (s *FiberServer) handleVerify(client *game.Client, msg wsMessage) {
	crashPoint, errCode := game.Verify(msg.ServerSeed, msg.ClientSeed, msg.Nonce, msg.Variant, s.cfg.HouseEdge, s.cfg.MaxCrashPoint)
	if errCode != game.ErrNone {
		client.WriteJSON(wsErr{Error: string(errCode)})
		return
	}
	client.WriteJSON(wsOk{Success: true, Type: "verify", Data: fiber.Map{"crashPoint": crashPoint.StringFixed(2)}})
}
