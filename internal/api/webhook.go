package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loadline/negotiator/internal/app"
)

type webhookResponse struct {
	Success       bool   `json:"success"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	NegotiationID string `json:"negotiationId,omitempty"`
	MessageID     string `json:"messageId,omitempty"`
	AgentQueued   bool   `json:"agentQueued,omitempty"`
	Error         string `json:"error,omitempty"`
}

// inboundEmail accepts provider events as form posts or JSON. Only authentication
// failures answer non-2xx; routing problems are logical failures the provider must
// not retry.
func (h *Handler) inboundEmail(c *gin.Context) {
	ev, err := bindInboundEmail(c)
	if err != nil {
		c.JSON(http.StatusOK, webhookResponse{Error: "unreadable payload"})
		return
	}
	res, err := h.correlator.Ingest(c.Request.Context(), ev)
	switch {
	case errors.Is(err, app.ErrWebhookNotConfigured):
		h.logger.Printf("API: inbound email refused: %v", err)
		c.JSON(http.StatusServiceUnavailable, webhookResponse{Error: "webhook not configured"})
		return
	case err != nil:
		h.logger.Printf("API: inbound email failed: %v", err)
		c.JSON(http.StatusInternalServerError, webhookResponse{Error: "internal error"})
		return
	}

	out := webhookResponse{
		NegotiationID: res.NegotiationID,
		MessageID:     res.MessageID,
		AgentQueued:   res.AgentQueued,
		Error:         res.Error,
	}
	switch res.Status {
	case app.IngestAccepted:
		out.Success = true
	case app.IngestDuplicate:
		out.Success, out.Duplicate = true, true
	case app.IngestUnauthorized:
		c.JSON(http.StatusUnauthorized, out)
		return
	}
	c.JSON(http.StatusOK, out)
}

func bindInboundEmail(c *gin.Context) (app.InboundEmail, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			return app.InboundEmail{}, err
		}
		get := func(keys ...string) string {
			for _, k := range keys {
				switch v := body[k].(type) {
				case string:
					return v
				case float64:
					// Some providers send the timestamp as a number.
					return strconv.FormatFloat(v, 'f', -1, 64)
				}
			}
			return ""
		}
		return app.InboundEmail{
			Timestamp: get("timestamp"),
			Token:     get("token"),
			Signature: get("signature"),
			Recipient: get("recipient"),
			Sender:    get("sender", "from"),
			Subject:   get("subject"),
			BodyPlain: get("body-plain", "bodyPlain"),
			MessageID: get("Message-Id", "messageId", "message-id"),
		}, nil
	}
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := c.PostForm(k); v != "" {
				return v
			}
		}
		return ""
	}
	return app.InboundEmail{
		Timestamp: get("timestamp"),
		Token:     get("token"),
		Signature: get("signature"),
		Recipient: get("recipient"),
		Sender:    get("sender", "from"),
		Subject:   get("subject"),
		BodyPlain: get("body-plain", "bodyPlain"),
		MessageID: get("Message-Id", "messageId", "message-id"),
	}, nil
}
