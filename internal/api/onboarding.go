package api

import (
	"net/http"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

type signupRequest struct {
	Email           string `json:"email" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
	Role            string `json:"role" binding:"required"`
}

type verificationStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func sessionResponse(s *models.Session) gin.H {
	return gin.H{
		"user_id":            s.UserID,
		"email":              s.Email,
		"role":               s.Role,
		"email_confirmed":    s.EmailConfirmed(),
		"email_confirmed_at": s.EmailConfirmedAt,
	}
}

// signup collects credentials and a role, then creates the account
func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	flow, err := service.NewSignupFlow(req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := flow.SelectRole(req.Role); err != nil {
		respondError(c, err)
		return
	}

	account, err := h.onboarding.CreateAccount(c.Request.Context(), flow)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id": account.ID,
		"email":   account.Email,
		"role":    account.Role,
		"state":   flow.State(),
	})
}

func (h *Handler) confirmEmail(c *gin.Context) {
	session, err := h.onboarding.ConfirmEmail(c.Request.Context(), c.Query("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(session))
}

func (h *Handler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, sessionResponse(currentSession(c)))
}

// completeOnboarding waits for email verification and then writes the
// business profile. A timed out wait answers 202 so the client can retry.
func (h *Handler) completeOnboarding(c *gin.Context) {
	var input service.ProfileInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	flow := service.ResumeSignupFlow(currentSession(c))

	outcome, err := h.onboarding.AwaitVerification(ctx, flow)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		respondError(c, err)
		return
	}
	if outcome != service.PollVerified {
		c.JSON(http.StatusAccepted, gin.H{"status": "pending_verification"})
		return
	}

	result, err := h.onboarding.FinishSignup(ctx, flow, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": result,
		"state":  flow.State(),
	})
}

// updateVerificationStatus lets an admin approve or reject an account
func (h *Handler) updateVerificationStatus(c *gin.Context) {
	userID, ok := parseID(c, "user_id")
	if !ok {
		return
	}

	var req verificationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	status, err := h.onboarding.UpdateVerificationStatus(c.Request.Context(), userID, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
