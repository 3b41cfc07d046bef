package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
)

func (h *Handler) createNegotiation(c *gin.Context) {
	var in app.CreateNegotiationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	n, err := h.svc.CreateNegotiation(c.Request.Context(), userID(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (h *Handler) listNegotiations(c *gin.Context) {
	list, err := h.svc.ListNegotiations(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []*domain.Negotiation{}
	}
	c.JSON(http.StatusOK, gin.H{"negotiations": list})
}

func (h *Handler) getNegotiation(c *gin.Context) {
	n, err := h.svc.GetNegotiation(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) deleteNegotiation(c *gin.Context) {
	if err := h.svc.DeleteNegotiation(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) acceptNegotiation(c *gin.Context) {
	n, err := h.svc.AcceptNegotiation(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) rejectNegotiation(c *gin.Context) {
	n, err := h.svc.RejectNegotiation(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

type sendMessageRequest struct {
	Content   string `json:"content"`
	SendEmail bool   `json:"sendEmail"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	m, err := h.svc.SendUserMessage(c.Request.Context(), userID(c), c.Param("id"), req.Content, req.SendEmail)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

type counterOfferRequest struct {
	Price      float64 `json:"price"`
	ProposedBy string  `json:"proposedBy"`
	Notes      string  `json:"notes"`
}

func (h *Handler) addCounterOffer(c *gin.Context) {
	var req counterOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	o, err := h.svc.AddCounterOffer(c.Request.Context(), userID(c), c.Param("id"), req.Price, req.ProposedBy, req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

type offerStatusRequest struct {
	Status domain.OfferStatus `json:"status"`
}

func (h *Handler) updateCounterOffer(c *gin.Context) {
	var req offerStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	n, err := h.svc.UpdateCounterOfferStatus(c.Request.Context(), userID(c), c.Param("id"), c.Param("offerId"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

type activateRequest struct {
	TargetPricePerKm float64           `json:"targetPricePerKm"`
	Settings         app.AgentSettings `json:"settings"`
}

func (h *Handler) activateAgent(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	n, err := h.svc.ActivateAgent(c.Request.Context(), userID(c), c.Param("id"), req.TargetPricePerKm, req.Settings)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) deactivateAgent(c *gin.Context) {
	n, err := h.svc.DeactivateAgent(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

type resumeRequest struct {
	Action app.ResumeAction `json:"action"`
	Bypass app.BypassFlags  `json:"bypass"`
}

func (h *Handler) resumeAgent(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	n, err := h.svc.ResumeAgent(c.Request.Context(), userID(c), c.Param("id"), req.Action, req.Bypass)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) getAgentConfig(c *gin.Context) {
	cfg, err := h.svc.GetAgentConfig(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) updateAgentConfig(c *gin.Context) {
	var settings app.AgentSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	cfg, err := h.svc.UpdateAgentSettings(c.Request.Context(), userID(c), c.Param("id"), settings)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) listNotifications(c *gin.Context) {
	list, err := h.svc.ListNotifications(c.Request.Context(), userID(c), c.Query("unread") == "true")
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	if err := h.svc.MarkNotificationRead(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
