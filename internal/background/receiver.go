package background

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nhle/sitenotify/internal/model"
)

// pushPayload is the body of POST /push.
type pushPayload struct {
	ID                 model.ID               `json:"id" validate:"required"`
	Type               model.NotificationType `json:"type"`
	Title              string                 `json:"title" validate:"required,max=200"`
	Message            string                 `json:"message" validate:"max=4000"`
	Priority           model.Priority         `json:"priority"`
	CreatedAt          time.Time              `json:"created_at"`
	Category           string                 `json:"category"`
	ActionURL          string                 `json:"action_url" validate:"omitempty,max=2048"`
	ActionLabel        string                 `json:"action_label"`
	SenderName         string                 `json:"sender_name"`
	SenderID           model.ID               `json:"sender_id"`
	TargetUserID       model.ID               `json:"target_user_id"`
	TargetRole         string                 `json:"target_role"`
	Metadata           map[string]any         `json:"metadata"`
	SenderConfirmation bool                   `json:"sender_confirmation"`
}

func (p pushPayload) notification() model.Notification {
	return model.Notification{
		ID:                 p.ID,
		Type:               p.Type,
		Title:              p.Title,
		Message:            p.Message,
		Priority:           p.Priority,
		CreatedAt:          p.CreatedAt,
		Category:           p.Category,
		ActionURL:          p.ActionURL,
		ActionLabel:        p.ActionLabel,
		SenderName:         p.SenderName,
		SenderID:           p.SenderID,
		TargetUserID:       p.TargetUserID,
		TargetRole:         p.TargetRole,
		Metadata:           p.Metadata,
		SenderConfirmation: p.SenderConfirmation,
	}
}

// Receiver is the local HTTP endpoint the push relay delivers to.
type Receiver struct {
	echo     *echo.Echo
	svc      *Service
	validate *validator.Validate
	addr     string
	logger   *slog.Logger
}

// NewReceiver creates a receiver listening on addr.
func NewReceiver(addr string, svc *Service, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("push request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	r := &Receiver{
		echo:     e,
		svc:      svc,
		validate: validator.New(),
		addr:     addr,
		logger:   logger,
	}
	r.setupRoutes()
	return r
}

func (r *Receiver) setupRoutes() {
	r.echo.POST("/push", r.handlePush)
	r.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler exposes the router, for tests and embedding.
func (r *Receiver) Handler() http.Handler {
	return r.echo
}

// Start serves until Shutdown is called.
func (r *Receiver) Start() error {
	r.logger.Info("push receiver listening", "addr", r.addr)
	if err := r.echo.Start(r.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (r *Receiver) Shutdown(ctx context.Context) error {
	return r.echo.Shutdown(ctx)
}

func (r *Receiver) handlePush(c echo.Context) error {
	var p pushPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON payload")
	}
	if err := r.validate.Struct(p); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	if err := r.svc.HandlePush(c.Request().Context(), p.notification()); err != nil {
		r.logger.Warn("handling push", "id", p.ID, "error", err)
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]any{"accepted": true, "id": p.ID})
}
