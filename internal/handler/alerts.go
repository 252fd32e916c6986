package handlers

import (
	"encoding/base64"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"safechain/internal/alert"
	"safechain/pkg/errors"
	"safechain/pkg/response"
	"safechain/pkg/vault"
)

// triggerAlertRequest is the caller surface for raising an alert.
// Coordinates come from the caller's geolocation provider; their absence is
// a hard precondition failure, hence the pointer binding.
type triggerAlertRequest struct {
	AlertID    string   `json:"alert_id"`
	Originator string   `json:"originator" binding:"required"`
	Latitude   *float64 `json:"latitude" binding:"required"`
	Longitude  *float64 `json:"longitude" binding:"required"`
	Message    string   `json:"message"`
	MediaB64   string   `json:"media"` // optional, base64
	TimeoutSec int      `json:"timeout_seconds"`
}

// TriggerAlert raises an alert and blocks until a terminal state or the
// attempt budget runs out.
func (h *Handlers) TriggerAlert(c *gin.Context) {
	var req triggerAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request: coordinates and originator are required", nil)
		return
	}

	var media []byte
	if req.MediaB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.MediaB64)
		if err != nil {
			response.Fail(c, "media must be base64 encoded", nil)
			return
		}
		media = decoded
	}

	alertID := req.AlertID
	if alertID == "" {
		alertID = uuid.NewString()
	}

	result, err := h.machine.Trigger(c.Request.Context(), alert.TriggerRequest{
		AlertID:    alertID,
		Originator: req.Originator,
		Latitude:   *req.Latitude,
		Longitude:  *req.Longitude,
		Message:    req.Message,
		Media:      media,
		Timeout:    time.Duration(req.TimeoutSec) * time.Second,
	})
	if err != nil {
		h.log.Warn("alert attempt not confirmed",
			zap.String("alert_id", alertID),
			zap.Int("code", errors.GetCode(err)),
			zap.Error(err),
		)
		if result != nil {
			// Terminal failure: the caller gets the alert record with its
			// reason code, not a bare error.
			c.JSON(errorStatus(err), gin.H{"code": errors.GetCode(err), "message": err.Error(), "data": result})
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, "alert confirmed", result)
}

// GetAlertState returns the stored alert for polling callers.
func (h *Handlers) GetAlertState(c *gin.Context) {
	result, err := h.machine.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", result)
}

// GetAlertEvents returns the transition audit trail.
func (h *Handlers) GetAlertEvents(c *gin.Context) {
	events, err := h.store.ListAlertEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", events)
}

// ListAlerts returns an originator's alert history.
func (h *Handlers) ListAlerts(c *gin.Context) {
	originator := c.Query("originator")
	if originator == "" {
		response.Fail(c, "originator query parameter is required", nil)
		return
	}
	alerts, err := h.store.ListAlertsByOriginator(c.Request.Context(), originator)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", alerts)
}

// StreamAlertEvents holds an SSE connection open and relays the alert's
// state transitions live. The alert must already exist; watchers of a
// not-yet-triggered ID would wait forever.
func (h *Handlers) StreamAlertEvents(c *gin.Context) {
	if h.events == nil {
		response.Error(c, errors.WithCode(errors.CodeNotFound, "live streaming is not enabled"))
		return
	}
	a, err := h.machine.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.events.Serve(c, a.AlertID)
}

// GetAlertMedia retrieves and verifies the alert's encrypted media. A
// tampered payload surfaces as an integrity error, never as bytes.
func (h *Handlers) GetAlertMedia(c *gin.Context) {
	ctx := c.Request.Context()

	a, err := h.machine.GetAlert(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if a.MediaRef == "" {
		response.Error(c, errors.WithCodef(errors.CodeNotFound, "alert %s has no media attached", a.AlertID))
		return
	}

	obj, err := h.store.GetMediaObjectByRef(ctx, a.MediaRef)
	if err != nil {
		response.Error(c, err)
		return
	}

	plaintext, err := h.vault.Retrieve(ctx, vault.MediaObject{
		PlainDigest: obj.PlainDigest,
		CipherRef:   obj.CipherRef,
		KeyRef:      obj.KeyRef,
	})
	if err != nil {
		if h.m != nil && errors.IsCode(err, errors.CodeTampered) {
			h.m.TamperDetected.Inc()
		}
		response.Error(c, err)
		return
	}
	c.Data(200, "application/octet-stream", plaintext)
}

func errorStatus(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeValidation:
		return 400
	case errors.CodeNotFound:
		return 404
	case errors.CodeRejected:
		return 422
	case errors.CodeLedgerUnavailable, errors.CodeTimeout:
		return 504
	default:
		return 500
	}
}
