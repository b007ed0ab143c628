package analysis

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rohann-max/FINSHIELD/internal/history"
	"github.com/rohann-max/FINSHIELD/internal/logging"
	"github.com/rohann-max/FINSHIELD/internal/telemetry"
	"github.com/rohann-max/FINSHIELD/internal/validation"
)

// Handler provides HTTP endpoints for analysis and history
type Handler struct {
	service *Service
}

// NewHandler creates a new analysis handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up analysis routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze", h.Analyze)
	r.GET("/history", h.History)
}

// Analyze handles POST /analyze
func (h *Handler) Analyze(c *gin.Context) {
	body, err := c.GetRawData()
	if validation.IsBodyTooLarge(err) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "payload_too_large",
			"message": "Request body exceeds the telemetry size limit",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Could not read request body",
		})
		return
	}

	rec, err := telemetry.Parse(body)
	if err != nil {
		logging.L(c.Request.Context()).Debug("rejected telemetry body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a JSON object",
		})
		return
	}
	rec.TransactionID = validation.SanitizeIdentifier(rec.TransactionID, validation.MaxIdentifierLength)
	rec.MerchantType = validation.SanitizeIdentifier(rec.MerchantType, validation.MaxIdentifierLength)
	rec.DeviceType = validation.SanitizeIdentifier(rec.DeviceType, validation.MaxIdentifierLength)

	c.JSON(http.StatusOK, h.service.Analyze(c.Request.Context(), rec))
}

// History handles GET /history
func (h *Handler) History(c *gin.Context) {
	limit := history.DefaultLimit
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	entries, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to read audit log", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_unavailable",
			"message": "Failed to read transaction history",
		})
		return
	}
	c.JSON(http.StatusOK, entries)
}
