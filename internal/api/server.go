package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/clearhaul/realtime/internal/realtime"
)

// Server exposes the coordinator's two surfaces: the public websocket
// endpoint and a small internal API the CRUD services use to push events
// that originate outside the realtime layer.
type Server struct {
	router     *realtime.Router
	dispatcher *realtime.Dispatcher
	clientOpts realtime.ClientOptions
	log        *zap.Logger
}

func NewServer(router *realtime.Router, dispatcher *realtime.Dispatcher, opts realtime.ClientOptions, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())

	s := &Server{router: router, dispatcher: dispatcher, clientOpts: opts, log: log}

	v1 := app.Group("/v1")
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(s.handleWS))

	internal := app.Group("/internal")
	internal.Post("/dispatch", s.dispatchNewJob)
	internal.Post("/users/:user_id/push", s.pushToUser)
	internal.Post("/jobs/:job_id/broadcast", s.broadcastToJob)

	return app
}

// handleWS runs for the lifetime of one websocket connection. A token query
// parameter performs the handshake at upgrade time; otherwise the client
// must send an authenticate event before anything else.
func (s *Server) handleWS(conn *websocket.Conn) {
	client := realtime.NewClient(conn, s.log, s.clientOpts)
	session := realtime.NewSession(client, s.clientOpts.Limiter())

	ctx := context.Background()
	if token := conn.Query("token"); token != "" {
		if err := s.router.Authenticate(ctx, session, token); err != nil {
			return
		}
	}
	client.Serve(ctx, s.router, session)
}

type dispatchRequest struct {
	Lat float64        `json:"lat"`
	Lng float64        `json:"lng"`
	Job map[string]any `json:"job"`
}

// dispatchNewJob announces a freshly created job to every dispatch group
// covering its pickup coordinate. Called by the job service on job intake.
func (s *Server) dispatchNewJob(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	n := s.dispatcher.ToDispatchArea(req.Lat, req.Lng, realtime.EventNewJob, req.Job)
	return c.JSON(fiber.Map{"groups": n})
}

type pushRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// pushToUser delivers a private event to a user's live connections, if any.
func (s *Server) pushToUser(c *fiber.Ctx) error {
	var req pushRequest
	if err := c.BodyParser(&req); err != nil || req.Event == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	s.dispatcher.ToUser(c.Params("user_id"), req.Event, req.Data)
	return c.JSON(fiber.Map{"status": "ok"})
}

// broadcastToJob lets REST-side job mutations (assignment, cancellation)
// reach the job's chat room without going through a websocket.
func (s *Server) broadcastToJob(c *fiber.Ctx) error {
	var req pushRequest
	if err := c.BodyParser(&req); err != nil || req.Event == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	s.dispatcher.ToRoom(realtime.ChatRoom(c.Params("job_id")), req.Event, req.Data)
	return c.JSON(fiber.Map{"status": "ok"})
}
