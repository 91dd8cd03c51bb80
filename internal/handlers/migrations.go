package handlers

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/ledgercat/internal/migration"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
	"github.com/charlesng35/ledgercat/pkg/logger"
	"github.com/charlesng35/ledgercat/pkg/response"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// MigrationHandler starts migrations and streams their progress.
type MigrationHandler struct {
	runner   *migration.Runner
	defaults migration.Options
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewMigrationHandler constructs a migration handler. defaults fill in
// options the request leaves unset.
func NewMigrationHandler(runner *migration.Runner, defaults migration.Options) (*MigrationHandler, error) {
	if runner == nil {
		return nil, apperrors.ErrInternalServer.WithMessage("migration runner is required")
	}
	return &MigrationHandler{
		runner:   runner,
		defaults: defaults,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
		log: logger.WithModule("migration_stream"),
	}, nil
}

type startMigrationRequest struct {
	Source      string `json:"source" validate:"required,oneof=durable ephemeral"`
	Destination string `json:"destination" validate:"required,oneof=durable ephemeral,nefield=Source"`
	BatchSize   *int   `json:"batch_size" validate:"omitempty,min=1,max=1000"`
	DryRun      *bool  `json:"dry_run"`
	Verify      *bool  `json:"verify"`
	// BatchDelay accepts Go duration syntax, e.g. "500ms".
	BatchDelay string `json:"batch_delay"`
}

// Start launches a background migration.
//
// POST /api/migrations
func (h *MigrationHandler) Start(c *gin.Context) {
	var req startMigrationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	opts := h.defaults
	if req.BatchSize != nil {
		opts.BatchSize = *req.BatchSize
	}
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}
	if req.Verify != nil {
		opts.Verify = *req.Verify
	}
	if delay := strings.TrimSpace(req.BatchDelay); delay != "" {
		parsed, err := time.ParseDuration(delay)
		if err != nil || parsed < 0 {
			response.Error(c, apperrors.NewBadRequest("batch delay must be a non-negative duration"))
			return
		}
		opts.BatchDelay = parsed
	}

	job, err := h.runner.Start(c.Request.Context(), req.Source, req.Destination, opts)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, job)
}

// Current returns the running or last finished migration.
//
// GET /api/migrations/current
func (h *MigrationHandler) Current(c *gin.Context) {
	job, ok := h.runner.Current()
	if !ok {
		response.Error(c, apperrors.ErrNotFound.WithMessage("no migration has run"))
		return
	}
	response.Success(c, http.StatusOK, job)
}

// Stream upgrades to a WebSocket and pushes a job snapshot after every
// migrated item until the client disconnects.
//
// GET /api/migrations/stream
func (h *MigrationHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.runner.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("migration stream closed", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case job := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(job); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// sameOrigin accepts non-browser clients, same-host origins and loopback development.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	requestHost := r.Host
	if host, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = host
	}
	if strings.EqualFold(originHost, requestHost) {
		return true
	}
	ip := net.ParseIP(originHost)
	return originHost == "localhost" || (ip != nil && ip.IsLoopback())
}
