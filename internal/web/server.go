package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/minasoft/hl7-engine/internal/db"
	"github.com/minasoft/hl7-engine/internal/engine"
)

// QueryStore is the read surface backing the dashboard endpoints.
type QueryStore interface {
	ListMessages(ctx context.Context, f db.MessageFilter) ([]db.Message, error)
	ListDestinationLogs(ctx context.Context, messageID string) ([]db.DestinationLog, error)
	Stats(ctx context.Context) (*db.MessageStats, error)
}

// EventSource feeds the live event stream.
type EventSource interface {
	Subscribe(handler func(data []byte)) (func(), error)
}

type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	store  QueryStore
	events EventSource
	port   int
}

func NewServer(eng *engine.Engine, store QueryStore, events EventSource, port int) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	return &Server{
		echo:   e,
		engine: eng,
		store:  store,
		events: events,
		port:   port,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.setupRoutes()

	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("Web sunucu başlatılıyor", "port", s.port)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("Web sunucu hatası", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.echo.POST("/inbound/:channelId", s.handleInbound)

	api := s.echo.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/messages", s.handleGetMessages)
	api.GET("/messages/:id/logs", s.handleGetDestinationLogs)
	api.POST("/message/resend/:id", s.handleResend)
	api.POST("/destination/send", s.handleSendToDestinations)
	api.GET("/events", s.handleEventStream)
}

// errorEnvelope is the stable error shape HTTP callers get.
func errorEnvelope(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]any{
		"success":      false,
		"message":      err.Error(),
		"errorType":    engine.ErrorType(err),
		"errorMessage": err.Error(),
	})
}

func statusFor(err error) int {
	switch engine.ErrorType(err) {
	case "ChannelNotFound", "MessageNotFound":
		return http.StatusNotFound
	case "ChannelNotRunning", "PreconditionError":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleInbound(c echo.Context) error {
	channelID, err := strconv.ParseInt(c.Param("channelId"), 10, 64)
	if err != nil {
		return errorEnvelope(c, http.StatusBadRequest, fmt.Errorf("geçersiz kanal kimliği: %w", err))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errorEnvelope(c, http.StatusBadRequest, fmt.Errorf("istek gövdesi okunamadı: %w", err))
	}
	payload := string(body)

	ctx := c.Request().Context()
	outcome, err := s.engine.ProcessInbound(ctx, channelID, payload)
	if err != nil {
		status := statusFor(err)
		if outcome != nil {
			return c.JSON(status, map[string]any{
				"success":      false,
				"message":      err.Error(),
				"errorType":    engine.ErrorType(err),
				"errorMessage": err.Error(),
				"result":       outcome,
			})
		}
		return errorEnvelope(c, status, err)
	}

	// The channel's response script may shape the reply envelope; any failure
	// falls back to the default.
	if channel, chErr := s.engine.Channel(ctx, channelID); chErr == nil {
		if custom, ok := s.engine.RunResponseScript(ctx, channel, payload, outcome); ok {
			return c.JSON(http.StatusOK, custom)
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Mesaj işlendi",
		"result":  outcome,
	})
}

func (s *Server) handleResend(c echo.Context) error {
	result, err := s.engine.Resend(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorEnvelope(c, statusFor(err), err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Mesaj yeniden gönderildi",
		"result":  result,
	})
}

type sendToDestinationsRequest struct {
	ChannelID int64           `json:"channelId"`
	MessageID string          `json:"messageId"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *Server) handleSendToDestinations(c echo.Context) error {
	var req sendToDestinationsRequest
	if err := c.Bind(&req); err != nil {
		return errorEnvelope(c, http.StatusBadRequest, fmt.Errorf("istek çözümlenemedi: %w", err))
	}
	if req.ChannelID == 0 || len(req.Payload) == 0 {
		return errorEnvelope(c, http.StatusBadRequest, fmt.Errorf("channelId ve payload zorunludur"))
	}

	payload := string(req.Payload)
	// A JSON string body is unwrapped to its raw text form.
	var asString string
	if err := json.Unmarshal(req.Payload, &asString); err == nil {
		payload = asString
	}

	results, err := s.engine.SendToDestinations(c.Request().Context(), req.ChannelID, req.MessageID, payload)
	if err != nil {
		return errorEnvelope(c, statusFor(err), err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Payload tüm hedeflere gönderildi",
		"results": results,
	})
}

func (s *Server) handleGetMessages(c echo.Context) error {
	filter := db.MessageFilter{
		Direction: c.QueryParam("direction"),
		Status:    c.QueryParam("status"),
	}
	if raw := c.QueryParam("channelId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return errorEnvelope(c, http.StatusBadRequest, fmt.Errorf("geçersiz kanal kimliği: %w", err))
		}
		filter.ChannelID = id
	}
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}

	messages, err := s.store.ListMessages(c.Request().Context(), filter)
	if err != nil {
		return errorEnvelope(c, http.StatusInternalServerError, err)
	}
	if messages == nil {
		messages = []db.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

func (s *Server) handleGetDestinationLogs(c echo.Context) error {
	logs, err := s.store.ListDestinationLogs(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorEnvelope(c, http.StatusInternalServerError, err)
	}
	if logs == nil {
		logs = []db.DestinationLog{}
	}
	return c.JSON(http.StatusOK, logs)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return errorEnvelope(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleHealth(c echo.Context) error {
	components := make(map[string]string)
	overallStatus := "healthy"

	if _, err := s.store.Stats(c.Request().Context()); err != nil {
		components["database"] = "unhealthy: " + err.Error()
		overallStatus = "degraded"
	} else {
		components["database"] = "healthy"
	}

	if s.events == nil {
		components["events"] = "unhealthy: not initialized"
		overallStatus = "degraded"
	} else {
		components["events"] = "healthy"
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, map[string]any{
		"status":     overallStatus,
		"timestamp":  time.Now(),
		"components": components,
		"version":    "1.0.0",
	})
}

// handleEventStream pushes lifecycle events to the dashboard as server-sent
// events until the client disconnects.
func (s *Server) handleEventStream(c echo.Context) error {
	if s.events == nil {
		return errorEnvelope(c, http.StatusServiceUnavailable, fmt.Errorf("olay akışı kullanılamıyor"))
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	eventCh := make(chan []byte, 64)
	unsubscribe, err := s.events.Subscribe(func(data []byte) {
		select {
		case eventCh <- data:
		default:
			// Slow client; drop rather than block the bus.
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-eventCh:
			if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}
