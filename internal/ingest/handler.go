package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"hookrelay/internal/config"
	"hookrelay/internal/delivery"
	"hookrelay/internal/logger"
	"hookrelay/pkg/errors"
)

// StatsProvider exposes queue statistics. Wired when the dispatch side runs
// in the same process; nil otherwise.
type StatsProvider interface {
	Stats(ctx context.Context) delivery.Stats
}

type Handler struct {
	service *Service
	stats   StatsProvider
	cfg     config.IngestConfig
	logger  logger.Logger
}

func NewHandler(service *Service, stats StatsProvider, cfg config.IngestConfig, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		stats:   stats,
		cfg:     cfg,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/webhook/:source", h.HandleWebhook)
	if h.stats != nil {
		router.GET("/queue/stats", h.QueueStats)
	}
}

// HandleWebhook godoc
// @Summary      Ingest a webhook event
// @Description  Validates, rate-limits, filters and routes one webhook from the named source
// @Tags         ingest
// @Accept       json
// @Produce      json
// @Param        source  path      string  true  "Webhook source key"
// @Success      202     {object}  Result
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      429     {object}  errors.ErrorResponse
// @Router       /webhook/{source} [post]
func (h *Handler) HandleWebhook(c *gin.Context) {
	source := c.Param("source")

	body, err := h.readBody(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	result, err := h.service.ProcessWebhook(
		c.Request.Context(),
		source,
		c.ClientIP(),
		c.Request.Header,
		body,
	)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// QueueStats godoc
// @Summary      Delivery queue statistics
// @Tags         ingest
// @Produce      json
// @Success      200  {object}  delivery.Stats
// @Router       /queue/stats [get]
func (h *Handler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Stats(c.Request.Context()))
}

func (h *Handler) readBody(c *gin.Context) ([]byte, error) {
	reader := c.Request.Body
	if h.cfg.MaxBodyBytes > 0 {
		reader = http.MaxBytesReader(c.Writer, reader, h.cfg.MaxBodyBytes)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.ErrValidation.
			WithDetail("message", "failed to read request body").
			WithCause(err)
	}
	return body, nil
}

func (h *Handler) handleError(c *gin.Context, err error) {
	if errors.IsRateLimited(err) {
		retryAfter := errors.RetryAfter(err)
		c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
	} else {
		h.logger.ErrorwCtx(c.Request.Context(), "Webhook request error",
			"error", err,
			"path", c.Request.URL.Path,
		)
	}

	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}
