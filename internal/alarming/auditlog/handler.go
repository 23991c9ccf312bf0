package auditlog

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler ingests alarm state change notifications over the webhook
// channel and records them through the Recorder.
type Handler struct {
	recorder *Recorder
}

func NewHandler(recorder *Recorder) *Handler { return &Handler{recorder: recorder} }

// RegisterWebhookRoutes mounts the notification ingest route.
func RegisterWebhookRoutes(r *gin.Engine, h *Handler) {
	r.POST("/v1/integrations/alarms/webhook", h.AlarmWebhook)
}

type webhookRequest struct {
	Notifications []Notification `json:"notifications"`
}

// AlarmWebhook accepts either a single notification object or a batch under
// "notifications". Individual failures do not fail the whole delivery; the
// transport retries and the recorder is idempotent.
func (h *Handler) AlarmWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindBodyWithJSON(&req); err != nil || len(req.Notifications) == 0 {
		var single Notification
		if err := c.ShouldBindBodyWithJSON(&single); err != nil {
			log.Error().Err(err).Msg("alarm webhook: invalid JSON payload")
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid JSON"})
			return
		}
		req.Notifications = []Notification{single}
	}

	recorded := 0
	failed := 0
	for _, n := range req.Notifications {
		if err := h.recorder.Record(c.Request.Context(), n); err != nil {
			if errors.Is(err, ErrInvalidNotification) {
				log.Warn().Str("alarm", n.AlarmName).Msg("alarm webhook: dropping malformed notification")
			} else {
				log.Error().Err(err).Str("alarm", n.AlarmName).Msg("alarm webhook: record failed")
			}
			failed++
			continue
		}
		recorded++
	}
	c.JSON(http.StatusOK, gin.H{"ok": failed == 0, "recorded": recorded, "failed": failed})
}
