package api

import (
	"context"
	"errors"
	"net/http"

	"marketplace-service/internal/payments"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// sendVerificationEmail forwards a verification status notice
func (h *Handler) sendVerificationEmail(c *gin.Context) {
	var req service.VerificationEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.forms.SendVerificationEmail(c.Request.Context(), &req); err != nil {
		if service.IsValidationError(err) {
			respondError(c, err)
			return
		}
		util.GetLogger().Error("Failed to send verification email",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) submitContact(c *gin.Context) {
	h.submitForm(c, h.forms.SubmitContact)
}

func (h *Handler) submitProposal(c *gin.Context) {
	h.submitForm(c, h.forms.SubmitProposal)
}

func (h *Handler) submitForm(c *gin.Context, forward func(ctx context.Context, req *service.FormRequest) error) {
	var req service.FormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := forward(c.Request.Context(), &req); err != nil {
		if service.IsValidationError(err) {
			respondError(c, err)
			return
		}
		util.GetLogger().Error("Failed to forward form",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// verifyCheckoutSession reports a Stripe Checkout Session's status
func (h *Handler) verifyCheckoutSession(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	session, err := h.checkout.VerifySession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, payments.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payments are not configured"})
			return
		}
		util.GetLogger().Warn("Checkout session lookup failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to verify session"})
		return
	}
	c.JSON(http.StatusOK, session)
}
