package handlers

import (
	"errors"
	"net/http"

	"sensor_monitor/internal/models"
	"sensor_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

type liveView struct {
	Status  models.PipelineStatus `json:"status"`
	Samples []models.LiveSample   `json:"samples"`
}

func (h *Handler) liveView() liveView {
	return liveView{
		Status:  h.services.Live.Status(),
		Samples: h.services.Live.Snapshot(),
	}
}

// @Summary      Live window
// @Description  The most recent readings (oldest first) and the transport status.
// @Tags         live
// @Produce      json
// @Success      200  {object}  liveView
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/live [get]
// @Security     BearerAuth
func (h *Handler) getLive(c *gin.Context) {
	c.JSON(http.StatusOK, h.liveView())
}

// @Summary      Send a device command
// @Description  Publishes NAME=value on the command topic. Names: SETPOINT, TOLERANCE, HYSTERESIS, FAN_MIN_SPEED, DISTANCE, PID, ALARM, MANUAL.
// @Tags         live
// @Accept       json
// @Produce      json
// @Param        body  body      models.Command  true  "command"
// @Success      202   {object}  map[string]string
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /api/v1/commands [post]
// @Security     BearerAuth
func (h *Handler) postCommand(c *gin.Context) {
	var cmd models.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.services.Live.SendCommand(c.Request.Context(), cmd.Name, cmd.Value); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCommand):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrDependency):
			h.logAndJSONError(c, http.StatusServiceUnavailable, "live_command_failed", "device transport unavailable", err)
		default:
			h.logAndJSONError(c, http.StatusInternalServerError, "live_command_failed", "failed to send command", err)
		}
		return
	}

	if h.log != nil {
		email, _ := c.Get(ctxEmail)
		h.log.Infow("live_command_accepted", "command", cmd.Name, "by", email)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}
