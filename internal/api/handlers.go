package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/glebk/draw-bot/internal/domain"
	"github.com/glebk/draw-bot/internal/service"
)

// publicOwner is the owner id of sessions created over HTTP
const publicOwner = ""

// codeInvalidRequest marks malformed requests that never reach the draw service
const codeInvalidRequest domain.Code = "INVALID_REQUEST"

// Handler wires HTTP routes to the draw service.
// Only public sessions are reachable; bot sessions stay private to their chat.
type Handler struct {
	draws *service.DrawService
}

// NewHandler constructs a Handler instance.
func NewHandler(draws *service.DrawService) *Handler {
	return &Handler{draws: draws}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/sessions", h.createSession)
	api.GET("/cooldowns", h.listCooldowns)
	api.GET("/history", h.listHistory)

	sessions := api.Group("/sessions/:id")
	sessions.Use(h.requirePublicSession())
	sessions.GET("", h.getSession)
	sessions.POST("/draws", h.performDraw)
	sessions.POST("/reset", h.resetCooldowns)
	sessions.GET("/items/:index/eligibility", h.eligibility)
}

// requirePublicSession hides sessions that belong to a bot chat
func (h *Handler) requirePublicSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := h.draws.GetOwnedSession(c.Request.Context(), c.Param("id"), publicOwner)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		if session == nil {
			c.AbortWithStatusJSON(http.StatusNotFound, errorBody(domain.ErrSessionNotFound))
			return
		}
		c.Set("session", session)
		c.Next()
	}
}

type itemRequest struct {
	Name          string  `json:"name"`
	CooldownHours float64 `json:"cooldownHours"`
}

type createSessionRequest struct {
	Names     []string          `json:"names"`
	Items     []itemRequest     `json:"items"`
	AudioRefs map[string]string `json:"audioRefs"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": domain.CodeInvalidSetup})
		return
	}

	items := make([]domain.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.Item{Name: it.Name, CooldownHours: it.CooldownHours})
	}

	id, err := h.draws.CreateSession(c.Request.Context(), service.SessionSetup{
		OwnerID:   publicOwner,
		Names:     req.Names,
		Items:     items,
		AudioRefs: req.AudioRefs,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, c.MustGet("session"))
}

type drawRequest struct {
	ItemIndex *int `json:"itemIndex" binding:"required"`
}

func (h *Handler) performDraw(c *gin.Context) {
	var req drawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "itemIndex is required", "code": codeInvalidRequest})
		return
	}

	result, err := h.draws.PerformDraw(c.Request.Context(), c.Param("id"), *req.ItemIndex)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) resetCooldowns(c *gin.Context) {
	if err := h.draws.ResetCooldowns(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) eligibility(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody(domain.ErrItemNotFound))
		return
	}

	statuses, err := h.draws.Eligibility(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

func (h *Handler) listCooldowns(c *gin.Context) {
	cooldowns, err := h.draws.GlobalCooldowns(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cooldowns)
}

func (h *Handler) listHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer", "code": codeInvalidRequest})
			return
		}
		limit = parsed
	}

	history, err := h.draws.GlobalHistory(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func writeError(c *gin.Context, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		log.Printf("Error handling %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(statusFor(de.Code), errorBody(de))
}

func errorBody(de *domain.Error) gin.H {
	return gin.H{"error": de.Message, "code": de.Code}
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeInvalidSetup:
		return http.StatusBadRequest
	case domain.CodeSessionNotFound, domain.CodeItemNotFound:
		return http.StatusNotFound
	case domain.CodeNoAvailableParticipants:
		return http.StatusConflict
	case domain.CodeUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
