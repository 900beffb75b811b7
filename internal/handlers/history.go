package handlers

import (
	"errors"
	"net/http"

	"sensor_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

// @Summary      Historical readings
// @Description  Readings with from <= timestamp <= to, oldest first. Bounds accept RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD'; values without an offset are UTC and a date-only 'to' covers the whole day.
// @Tags         history
// @Produce      json
// @Param        from  query     string  true  "Start of range"  example(2024-05-01)
// @Param        to    query     string  true  "End of range"    example(2024-05-31)
// @Success      200   {array}   models.Reading
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /sensor-data [get]
// @Security     BearerAuth
func (h *Handler) getSensorData(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Both 'from' and 'to' query parameters are required."})
		return
	}

	readings, err := h.services.History.Query(c.Request.Context(), from, to)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "history_query_failed", "failed to load sensor data", err)
		return
	}
	c.JSON(http.StatusOK, readings)
}
