// Package api serves the read side of the relay over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/igolaizola/aurum/pkg/history"
	"github.com/igolaizola/aurum/pkg/metrics"
	"github.com/igolaizola/aurum/pkg/relay"
	"github.com/igolaizola/aurum/pkg/venue"
	"github.com/rs/zerolog"
)

const DefaultAddr = ":8000"

type Session interface {
	State() venue.State
	Orders(ctx context.Context) ([]*venue.Order, error)
	Cancel(ctx context.Context, ticket int64) (*venue.Result, error)
	Account(ctx context.Context) (*venue.Account, error)
}

type Handler struct {
	session Session
	store   history.Store
	inject  chan<- relay.Message
	log     zerolog.Logger
}

// New creates the handler. A nil inject channel disables POST /messages.
func New(session Session, store history.Store, inject chan<- relay.Message, log zerolog.Logger) *Handler {
	return &Handler{
		session: session,
		store:   store,
		inject:  inject,
		log:     log.With().Str("component", "api").Logger(),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/orders", h.GetOrders)
	r.POST("/cancel/:ticket", h.CancelOrder)
	r.GET("/account", h.GetAccount)
	r.GET("/messages", h.GetMessages)
	if h.inject != nil {
		r.POST("/messages", h.PostMessage)
	}
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Router returns an engine with every route, CORS open to all origins.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.logRequest())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))
	h.RegisterRoutes(r)
	return r
}

// Serve listens on addr until the context is done.
func (h *Handler) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: h.Router(),
	}
	errC := make(chan error, 1)
	go func() {
		h.log.Info().Str("addr", addr).Msg("http listening")
		errC <- srv.ListenAndServe()
	}()
	select {
	case err := <-errC:
		return fmt.Errorf("api: couldn't listen on %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: couldn't shutdown: %w", err)
	}
	return nil
}

func (h *Handler) logRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "venue": h.session.State().String()})
}

func (h *Handler) GetOrders(c *gin.Context) {
	orders, err := h.session.Orders(c.Request.Context())
	if err != nil {
		c.JSON(venueStatus(err), gin.H{"error": err.Error()})
		return
	}
	if orders == nil {
		orders = []*venue.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

type cancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Ticket  int64  `json:"ticket"`
}

func (h *Handler) CancelOrder(c *gin.Context) {
	ticket, err := strconv.ParseInt(c.Param("ticket"), 10, 64)
	if err != nil || ticket <= 0 {
		c.JSON(http.StatusBadRequest, cancelResponse{Message: "ticket must be a positive integer"})
		return
	}
	res, err := h.session.Cancel(c.Request.Context(), ticket)
	if err != nil {
		c.JSON(venueStatus(err), cancelResponse{Message: err.Error(), Ticket: ticket})
		return
	}
	if !res.Done() {
		msg := res.Comment
		if msg == "" {
			msg = res.Retcode.String()
		}
		c.JSON(http.StatusOK, cancelResponse{Message: msg, Ticket: ticket})
		return
	}
	h.log.Info().Int64("ticket", ticket).Msg("order cancelled")
	c.JSON(http.StatusOK, cancelResponse{
		Success: true,
		Message: fmt.Sprintf("Order %d cancelled successfully", ticket),
		Ticket:  ticket,
	})
}

func (h *Handler) GetAccount(c *gin.Context) {
	acc, err := h.session.Account(c.Request.Context())
	if err != nil {
		c.JSON(venueStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, acc)
}

func (h *Handler) GetMessages(c *gin.Context) {
	limit := history.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	var events []*relay.Event
	var err error
	if c.Query("from") == "" && c.Query("to") == "" {
		events, err = h.store.Last(limit)
	} else {
		from, ferr := queryTime(c, "from", time.Time{})
		to, terr := queryTime(c, "to", endOfTime)
		if ferr != nil || terr != nil || to.Before(from) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must be an RFC 3339 range"})
			return
		}
		events, err = h.store.List(from, to)
		if len(events) > limit {
			events = events[len(events)-limit:]
		}
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []*relay.Event{}
	}
	c.JSON(http.StatusOK, events)
}

var endOfTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

func queryTime(c *gin.Context, key string, def time.Time) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, raw)
}

type postMessage struct {
	Channel   string `json:"channel"`
	Sender    string `json:"sender"`
	Text      string `json:"text" binding:"required"`
	Timestamp string `json:"timestamp"`
}

// PostMessage feeds a message into the pipeline as if it had been ingested.
func (h *Handler) PostMessage(c *gin.Context) {
	var req postMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ts := time.Now().UTC()
	if req.Timestamp != "" {
		var err error
		if ts, err = time.Parse(time.RFC3339, req.Timestamp); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be RFC3339"})
			return
		}
	}
	sender := strings.TrimSpace(req.Sender)
	if sender == "" {
		sender = relay.DefaultSender
	}
	msg := relay.Message{
		Channel: req.Channel,
		Sender:  sender,
		Text:    req.Text,
		Time:    ts,
	}
	select {
	case h.inject <- msg:
	case <-c.Request.Context().Done():
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline busy"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "success"})
}

func venueStatus(err error) int {
	switch {
	case errors.Is(err, venue.ErrNotConnected), errors.Is(err, venue.ErrConnectionLost):
		return http.StatusServiceUnavailable
	case errors.Is(err, venue.ErrOrderNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
