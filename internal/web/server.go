// Package web provides the read-only run-log dashboard server for the
// `rcfuzz serve` subcommand. It never talks to the Supervisor directly: it
// polls the run-log JSON file the scheduler writes and pushes updates to
// connected websocket clients, so it can monitor a run from another
// machine, or replay a finished one, without the scheduler process.
package web

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/tidwall/gjson"
)

// PollInterval is how often the server re-reads the run log off disk.
const PollInterval = 2 * time.Second

// Server is the rcfuzz serve dashboard: a read-only view over one run-log
// JSON file, grounded on the teacher's fiber+websocket broadcast server.
type Server struct {
	app        *fiber.App
	runLogPath string
	logger     *slog.Logger

	mu  sync.RWMutex
	raw []byte

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte

	stopPoll chan struct{}
}

// NewServer constructs a dashboard server over runLogPath. The file need
// not exist yet: the poll loop picks it up once the scheduler creates it.
func NewServer(runLogPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		app:        app,
		runLogPath: runLogPath,
		logger:     logger,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		stopPoll:   make(chan struct{}),
	}

	s.setupRoutes()
	s.refresh()
	go s.pollLoop()
	go s.handleBroadcast()

	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(cors.New())

	api := s.app.Group("/api")
	api.Get("/summary", s.handleSummary)
	api.Get("/rounds", s.handleRounds)
	api.Get("/log", s.handleLog)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))

	s.app.Get("/", s.handleDashboard)
	s.app.Get("/dashboard.js", s.handleDashboardJS)
	s.app.Get("/dashboard.css", s.handleDashboardCSS)
}

// refresh rereads the run log and reports whether its content changed.
func (s *Server) refresh() bool {
	data, err := os.ReadFile(s.runLogPath)
	if err != nil {
		return false
	}
	s.mu.Lock()
	changed := !bytes.Equal(data, s.raw)
	s.raw = data
	s.mu.Unlock()
	return changed
}

func (s *Server) pollLoop() {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopPoll:
			return
		case <-ticker.C:
			if s.refresh() {
				s.mu.RLock()
				data := s.raw
				s.mu.RUnlock()
				select {
				case s.broadcast <- data:
				default:
					s.logger.Warn("web: broadcast channel full, dropping run-log update")
				}
			}
		}
	}
}

// handleSummary returns the run-level fields plus the most recent snapshot,
// queried out of the raw JSON with gjson rather than a full unmarshal.
func (s *Server) handleSummary(c *fiber.Ctx) error {
	s.mu.RLock()
	data := s.raw
	s.mu.RUnlock()
	if data == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "run log not available yet"})
	}
	return c.JSON(fiber.Map{
		"cmd":        gjson.GetBytes(data, "cmd").String(),
		"algorithm":  gjson.GetBytes(data, "algorithm").String(),
		"start_time": gjson.GetBytes(data, "start_time").String(),
		"end_time":   gjson.GetBytes(data, "end_time").String(),
		"rounds":     gjson.GetBytes(data, "round.#").Int(),
		"snapshots":  gjson.GetBytes(data, "log.#").Int(),
		"latest":     json.RawMessage(gjson.GetBytes(data, "log.@reverse.0").Raw),
	})
}

// handleRounds returns the run log's round-summary array verbatim.
func (s *Server) handleRounds(c *fiber.Ctx) error {
	s.mu.RLock()
	data := s.raw
	s.mu.RUnlock()
	result := gjson.GetBytes(data, "round")
	if !result.Exists() {
		return c.JSON([]struct{}{})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.SendString(result.Raw)
}

// handleLog returns the compressed coverage-snapshot log verbatim. Pass
// ?tail=N to get only the last N entries.
func (s *Server) handleLog(c *fiber.Ctx) error {
	s.mu.RLock()
	data := s.raw
	s.mu.RUnlock()
	log := gjson.GetBytes(data, "log")
	if !log.Exists() {
		return c.JSON([]struct{}{})
	}
	if tail := c.QueryInt("tail", 0); tail > 0 {
		entries := log.Array()
		if tail < len(entries) {
			entries = entries[len(entries)-tail:]
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		out, _ := json.Marshal(entries)
		return c.Send(out)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.SendString(log.Raw)
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		c.Close()
	}()

	s.mu.RLock()
	data := s.raw
	s.mu.RUnlock()
	if data != nil {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) handleBroadcast() {
	for msg := range s.broadcast {
		s.clientsMu.Lock()
		for client := range s.clients {
			if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.Close()
				delete(s.clients, client)
			}
		}
		s.clientsMu.Unlock()
	}
}

// Start runs the dashboard server, blocking until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("web: dashboard starting", "addr", addr, "run_log", s.runLogPath)
	return s.app.Listen(addr)
}

// Stop shuts down the dashboard server and its poll loop.
func (s *Server) Stop() error {
	close(s.stopPoll)
	return s.app.Shutdown()
}
