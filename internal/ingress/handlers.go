package ingress

import (
	"context"
	"errors"
	"net/http"
	"time"

	"claimline/internal/telephony"
	"claimline/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Sink receives normalized events, usually the orchestrator's Submit.
type Sink func(ctx context.Context, ev CallEvent) error

// WebhookHandler terminates the provider's voice webhooks: the inbound-call
// answer (TwiML pointing the call at the media stream) and status callbacks.
type WebhookHandler struct {
	Adapter *Adapter
	Sink    Sink

	// AuthToken enables provider signature validation; empty disables it
	// (local development and tests).
	AuthToken string

	// PublicBaseURL is the externally visible scheme+host used to rebuild
	// the signed URL behind a proxy.
	PublicBaseURL string

	// StreamURL is the media WebSocket endpoint answered in TwiML.
	StreamURL string

	Now func() time.Time
}

func (h WebhookHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h WebhookHandler) verified(c *gin.Context) bool {
	if h.AuthToken == "" {
		return true
	}
	if err := c.Request.ParseForm(); err != nil {
		return false
	}
	return ValidTwilioSignature(
		h.AuthToken,
		requestURL(h.PublicBaseURL, c.Request),
		c.Request.PostForm,
		c.GetHeader("X-Twilio-Signature"),
	)
}

// HandleInboundCall answers a new call with TwiML that connects its audio
// to the media stream endpoint, and forwards the connect event.
func (h WebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	if !h.verified(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	form, err := ParseTwilioStatus(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("inbound webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	raw := RawNotification{
		EventID:       form.CallSid + ":inbound",
		CallID:        form.CallSid,
		Kind:          string(EventCallConnected),
		CallerNumber:  form.From,
		ServiceNumber: form.To,
		At:            h.now(),
	}
	ev, err := h.Adapter.Normalize(c.Request.Context(), raw)
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		// Re-delivered answer webhook; answering again is harmless.
	case err != nil:
		log.Warn("inbound event dropped", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	default:
		if err := h.Sink(c.Request.Context(), ev); err != nil {
			log.Error("inbound event rejected", "call_id", ev.CallID, "err", err)
			twiml, rerr := telephony.RenderTwiML(telephony.Answer{Action: telephony.AnswerReject})
			if rerr != nil {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header("Content-Type", "application/xml")
			c.String(http.StatusOK, twiml)
			return
		}
	}

	twiml, err := telephony.RenderTwiML(telephony.Answer{Action: telephony.AnswerConnect, StreamURL: h.StreamURL})
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// HandleStatusEvent ingests call status callbacks. Duplicates and unknown
// statuses are acknowledged so the provider does not retry them.
func (h WebhookHandler) HandleStatusEvent(c *gin.Context) {
	log := logger.FromGin(c)

	if !h.verified(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	form, err := ParseTwilioStatus(c.Request)
	if err != nil {
		log.Warn("status webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	ev, err := h.Adapter.Normalize(c.Request.Context(), form.ToNotification(h.now()))
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	case errors.Is(err, ErrMalformedEvent):
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case err != nil:
		log.Error("status normalization failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ingress failed"})
		return
	}

	if err := h.Sink(c.Request.Context(), ev); err != nil {
		log.Error("status event rejected", "call_id", ev.CallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ingress failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
