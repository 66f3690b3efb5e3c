// Package httpapi is the thin REST surface over the reminder and
// notification services, plus the websocket mount point. Handlers translate
// between JSON and service calls; all rules live below.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"beacon/internal/model"
	"beacon/internal/notify"
	"beacon/internal/reminder"
	"beacon/pkg/logx"
)

type Config struct {
	Addr string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8090"
	}
	return c
}

// WSHandler is the websocket endpoint; it does its own handshake auth.
type WSHandler interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
}

type Server struct {
	cfg Config
	log logx.Logger

	reminders     *reminder.Service
	notifications *notify.Service
	auth          Authenticator
	ws            WSHandler

	engine *gin.Engine

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(cfg Config, reminders *reminder.Service, notifications *notify.Service, auth Authenticator, ws WSHandler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:           cfg.withDefaults(),
		log:           log,
		reminders:     reminders,
		notifications: notifications,
		auth:          auth,
		ws:            ws,
		engine:        gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.ws != nil {
		s.engine.GET("/ws", func(c *gin.Context) {
			s.ws.HandleWS(c.Writer, c.Request)
		})
	}

	api := s.engine.Group("/api/v1")
	api.Use(AuthRequired(s.auth))
	{
		rem := api.Group("/reminders")
		{
			rem.POST("", s.handleCreateReminder())
			rem.POST("/from-due", s.handleCreateFromDue())
			rem.GET("", s.handleListReminders())
			rem.DELETE("/:id", s.handleCancelReminder())
		}
		not := api.Group("/notifications")
		{
			not.GET("", s.handleListNotifications())
			not.GET("/unread-count", s.handleUnreadCount())
			not.PUT("/:id/read", s.handleMarkRead())
			not.PUT("/read-all", s.handleMarkAllRead())
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.New("http server already started")
	}
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv = srv
	s.mu.Unlock()

	go func() {
		s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server exited", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
}

// ---- reminders ----

type createReminderRequest struct {
	WorkspaceID string  `json:"workspaceId" binding:"required"`
	TaskID      *string `json:"taskId,omitempty"`
	EventID     *string `json:"eventId,omitempty"`
	RemindAt    string  `json:"remindAt" binding:"required"`
	Label       *string `json:"label,omitempty"`
}

func (s *Server) handleCreateReminder() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createReminderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		remindAt, err := time.Parse(time.RFC3339, req.RemindAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "remindAt must be RFC3339"})
			return
		}
		r, err := s.reminders.Create(c.Request.Context(), reminder.CreateInput{
			WorkspaceID: req.WorkspaceID,
			UserID:      identityFrom(c).UserID,
			TaskID:      req.TaskID,
			EventID:     req.EventID,
			RemindAt:    remindAt,
			Label:       req.Label,
		})
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, r)
	}
}

type createFromDueRequest struct {
	WorkspaceID   string  `json:"workspaceId" binding:"required"`
	TaskID        *string `json:"taskId,omitempty"`
	EventID       *string `json:"eventId,omitempty"`
	DueAt         string  `json:"dueAt" binding:"required"`
	MinutesBefore int     `json:"minutesBefore"`
}

func (s *Server) handleCreateFromDue() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createFromDueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		dueAt, err := time.Parse(time.RFC3339, req.DueAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dueAt must be RFC3339"})
			return
		}
		ident := identityFrom(c)

		var r model.Reminder
		switch {
		case req.TaskID != nil && req.EventID == nil:
			r, err = s.reminders.CreateForTask(c.Request.Context(), req.WorkspaceID, ident.UserID, *req.TaskID, dueAt, req.MinutesBefore)
		case req.EventID != nil && req.TaskID == nil:
			r, err = s.reminders.CreateForEvent(c.Request.Context(), req.WorkspaceID, ident.UserID, *req.EventID, dueAt, req.MinutesBefore)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of taskId or eventId is required"})
			return
		}
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, r)
	}
}

func (s *Server) handleListReminders() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID := c.Query("workspaceId")
		if workspaceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "workspaceId query parameter is required"})
			return
		}
		list, err := s.reminders.ListScheduledForUser(c.Request.Context(), identityFrom(c).UserID, workspaceID)
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reminders": list})
	}
}

func (s *Server) handleCancelReminder() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.reminders.Cancel(c.Request.Context(), identityFrom(c).UserID, c.Param("id"))
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	}
}

// ---- notifications ----

func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		var opts notify.ListOptions
		opts.UnreadOnly = c.Query("unread") == "true"
		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
				return
			}
			opts.Limit = limit
		}
		list, err := s.notifications.ListForUser(c.Request.Context(), identityFrom(c).UserID, opts)
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": list})
	}
}

func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.notifications.UnreadCount(c.Request.Context(), identityFrom(c).UserID)
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.notifications.MarkRead(c.Request.Context(), identityFrom(c).UserID, c.Param("id"))
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := s.notifications.MarkAllRead(c.Request.Context(), identityFrom(c).UserID)
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"marked": count})
	}
}

// renderError maps service sentinels onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reminder.ErrNotFound), errors.Is(err, notify.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, reminder.ErrInvalidInput), errors.Is(err, notify.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, reminder.ErrDispatch):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduling temporarily unavailable"})
	default:
		s.log.Error("request failed", logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
