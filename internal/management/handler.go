package management

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hookrelay/internal/constants"
	"hookrelay/internal/dlq"
	"hookrelay/internal/logger"
	"hookrelay/pkg/errors"
)

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *BaseHandler) BindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
}

type Handler struct {
	BaseHandler
	Service Service
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		Service:     service,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		filters := v1.Group("/filters")
		{
			filters.GET("", h.ListFilters)
			filters.POST("", h.CreateFilter)
			filters.GET("/:id", h.GetFilter)
			filters.PUT("/:id", h.UpdateFilter)
			filters.DELETE("/:id", h.DeleteFilter)
			filters.GET("/:id/versions", h.GetRuleVersions)
			filters.GET("/:id/audit", h.auditByRule(ruleTypeFilter))
		}

		routes := v1.Group("/routes")
		{
			routes.GET("", h.ListRoutes)
			routes.POST("", h.CreateRoute)
			routes.GET("/:id", h.GetRoute)
			routes.PUT("/:id", h.UpdateRoute)
			routes.DELETE("/:id", h.DeleteRoute)
			routes.GET("/:id/versions", h.GetRuleVersions)
			routes.GET("/:id/audit", h.auditByRule(ruleTypeRoute))
		}

		ratelimit := v1.Group("/config/ratelimit")
		{
			ratelimit.GET("", h.GetRateLimitSettings)
			ratelimit.PUT("", h.UpdateRateLimitSettings)
		}

		audit := v1.Group("/audit")
		{
			audit.GET("/logs", h.GetAuditLogs)
		}
	}
}

// ListFilters godoc
// @Summary      List all event filters
// @Description  Get all event filters, including disabled ones
// @Tags         filters
// @Produce      json
// @Success      200  {array}   models.EventFilter
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /filters [get]
func (h *Handler) ListFilters(c *gin.Context) {
	filters, err := h.Service.ListFilters(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, filters)
}

// CreateFilter godoc
// @Summary      Create an event filter
// @Tags         filters
// @Accept       json
// @Produce      json
// @Param        filter  body      CreateFilterRequest  true  "Filter definition"
// @Success      201     {object}  models.EventFilter
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      409     {object}  errors.ErrorResponse
// @Router       /filters [post]
func (h *Handler) CreateFilter(c *gin.Context) {
	var req CreateFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	filter, err := h.Service.CreateFilter(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, filter)
}

// GetFilter godoc
// @Summary      Get an event filter by ID
// @Tags         filters
// @Produce      json
// @Param        id   path      string  true  "Filter ID"
// @Success      200  {object}  models.EventFilter
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /filters/{id} [get]
func (h *Handler) GetFilter(c *gin.Context) {
	filter, err := h.Service.GetFilter(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, filter)
}

// UpdateFilter godoc
// @Summary      Update an event filter
// @Tags         filters
// @Accept       json
// @Produce      json
// @Param        id      path      string               true  "Filter ID"
// @Param        filter  body      UpdateFilterRequest  true  "Fields to change"
// @Success      200     {object}  models.EventFilter
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      404     {object}  errors.ErrorResponse
// @Router       /filters/{id} [put]
func (h *Handler) UpdateFilter(c *gin.Context) {
	var req UpdateFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	filter, err := h.Service.UpdateFilter(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, filter)
}

// DeleteFilter godoc
// @Summary      Delete an event filter
// @Tags         filters
// @Param        id  path  string  true  "Filter ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /filters/{id} [delete]
func (h *Handler) DeleteFilter(c *gin.Context) {
	if err := h.Service.DeleteFilter(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListRoutes godoc
// @Summary      List all event routes
// @Tags         routes
// @Produce      json
// @Success      200  {array}   models.EventRoute
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /routes [get]
func (h *Handler) ListRoutes(c *gin.Context) {
	routes, err := h.Service.ListRoutes(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, routes)
}

// CreateRoute godoc
// @Summary      Create an event route
// @Tags         routes
// @Accept       json
// @Produce      json
// @Param        route  body      CreateRouteRequest  true  "Route definition"
// @Success      201    {object}  models.EventRoute
// @Failure      400    {object}  errors.ErrorResponse
// @Failure      409    {object}  errors.ErrorResponse
// @Router       /routes [post]
func (h *Handler) CreateRoute(c *gin.Context) {
	var req CreateRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	route, err := h.Service.CreateRoute(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, route)
}

// GetRoute godoc
// @Summary      Get an event route by ID
// @Tags         routes
// @Produce      json
// @Param        id   path      string  true  "Route ID"
// @Success      200  {object}  models.EventRoute
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /routes/{id} [get]
func (h *Handler) GetRoute(c *gin.Context) {
	route, err := h.Service.GetRoute(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, route)
}

// UpdateRoute godoc
// @Summary      Update an event route
// @Tags         routes
// @Accept       json
// @Produce      json
// @Param        id     path      string              true  "Route ID"
// @Param        route  body      UpdateRouteRequest  true  "Fields to change"
// @Success      200    {object}  models.EventRoute
// @Failure      400    {object}  errors.ErrorResponse
// @Failure      404    {object}  errors.ErrorResponse
// @Router       /routes/{id} [put]
func (h *Handler) UpdateRoute(c *gin.Context) {
	var req UpdateRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	route, err := h.Service.UpdateRoute(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, route)
}

// DeleteRoute godoc
// @Summary      Delete an event route
// @Tags         routes
// @Param        id  path  string  true  "Route ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /routes/{id} [delete]
func (h *Handler) DeleteRoute(c *gin.Context) {
	if err := h.Service.DeleteRoute(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRuleVersions godoc
// @Summary      Get rule version history
// @Tags         audit
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {array}   RuleVersion
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /filters/{id}/versions [get]
func (h *Handler) GetRuleVersions(c *gin.Context) {
	versions, err := h.Service.GetRuleVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

func (h *Handler) auditByRule(ruleType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		logs, err := h.Service.GetAuditLogs(c.Request.Context(), &id, ruleType, parseLimit(c.Query("limit")))
		if err != nil {
			h.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, logs)
	}
}

// GetAuditLogs godoc
// @Summary      Get audit logs
// @Description  Audit logs filtered by rule ID or rule type (filter, route)
// @Tags         audit
// @Produce      json
// @Param        rule_id    query     string  false  "Filter by rule ID"
// @Param        rule_type  query     string  false  "Filter by rule type"
// @Param        limit      query     int     false  "Maximum number of logs (1-1000)" default(100)
// @Success      200        {array}   AuditLog
// @Failure      500        {object}  errors.ErrorResponse
// @Router       /audit/logs [get]
func (h *Handler) GetAuditLogs(c *gin.Context) {
	ruleID := c.Query("rule_id")
	var ruleIDPtr *string
	if ruleID != "" {
		ruleIDPtr = &ruleID
	}

	logs, err := h.Service.GetAuditLogs(c.Request.Context(), ruleIDPtr, c.Query("rule_type"), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetRateLimitSettings godoc
// @Summary      Get rate limit settings
// @Tags         ratelimit
// @Produce      json
// @Success      200  {object}  RateLimitSettings
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /config/ratelimit [get]
func (h *Handler) GetRateLimitSettings(c *gin.Context) {
	settings, err := h.Service.GetRateLimitSettings(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateRateLimitSettings godoc
// @Summary      Update rate limit settings
// @Tags         ratelimit
// @Accept       json
// @Produce      json
// @Param        settings  body      UpdateRateLimitRequest  true  "Fields to change"
// @Success      200       {object}  RateLimitSettings
// @Failure      400       {object}  errors.ErrorResponse
// @Router       /config/ratelimit [put]
func (h *Handler) UpdateRateLimitSettings(c *gin.Context) {
	var req UpdateRateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	settings, err := h.Service.UpdateRateLimitSettings(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}

// DLQHandler exposes the dead-letter queue for inspection and replay.
type DLQHandler struct {
	BaseHandler
	Service *dlq.Service
}

func NewDLQHandler(service *dlq.Service, log logger.Logger) *DLQHandler {
	return &DLQHandler{
		BaseHandler: BaseHandler{Logger: log},
		Service:     service,
	}
}

func (h *DLQHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		entries := v1.Group("/dlq")
		{
			entries.GET("", h.List)
			entries.GET("/count", h.Count)
			entries.GET("/:id", h.Get)
			entries.POST("/:id/replay", h.Replay)
			entries.DELETE("/:id", h.Purge)
		}
	}
}

// List godoc
// @Summary      List dead-letter entries
// @Tags         dlq
// @Produce      json
// @Param        source        query     string  false  "Filter by event source"
// @Param        target_agent  query     string  false  "Filter by target agent"
// @Param        limit         query     int     false  "Page size"  default(50)
// @Param        offset        query     int     false  "Page offset"
// @Success      200           {array}   models.DeadLetterEntry
// @Failure      500           {object}  errors.ErrorResponse
// @Router       /dlq [get]
func (h *DLQHandler) List(c *gin.Context) {
	var query DLQListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindError(c, err)
		return
	}

	entries, err := h.Service.List(c.Request.Context(), dlq.ListFilter{
		Source:      query.Source,
		TargetAgent: query.TargetAgent,
		Limit:       int64(query.Limit),
		Offset:      int64(query.Offset),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Count godoc
// @Summary      Count dead-letter entries
// @Tags         dlq
// @Produce      json
// @Success      200  {object}  DLQCountResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /dlq/count [get]
func (h *DLQHandler) Count(c *gin.Context) {
	count, err := h.Service.Count(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, DLQCountResponse{Count: count})
}

// Get godoc
// @Summary      Get a dead-letter entry by ID
// @Tags         dlq
// @Produce      json
// @Param        id   path      string  true  "Entry ID"
// @Success      200  {object}  models.DeadLetterEntry
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /dlq/{id} [get]
func (h *DLQHandler) Get(c *gin.Context) {
	entry, err := h.Service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Replay godoc
// @Summary      Replay a dead-letter entry
// @Description  Requeues the entry as a fresh delivery with a full retry budget
// @Tags         dlq
// @Produce      json
// @Param        id   path      string  true  "Entry ID"
// @Success      202  {object}  ReplayResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /dlq/{id}/replay [post]
func (h *DLQHandler) Replay(c *gin.Context) {
	id := c.Param("id")
	if err := h.Service.Replay(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ReplayResponse{ID: id, ReplayedAt: time.Now()})
}

// Purge godoc
// @Summary      Delete a dead-letter entry
// @Tags         dlq
// @Param        id  path  string  true  "Entry ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /dlq/{id} [delete]
func (h *DLQHandler) Purge(c *gin.Context) {
	if err := h.Service.Purge(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
