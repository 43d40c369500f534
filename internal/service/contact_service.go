package service

import (
	"context"
	"strings"

	"marketplace-service/internal/models"
	"marketplace-service/internal/notify"
	"marketplace-service/internal/util"
	"marketplace-service/internal/validation"

	"go.uber.org/zap"
)

// ContactService forwards public form submissions and verification notices
// to the mail provider. Nothing is persisted.
type ContactService struct {
	mailer     notify.Mailer
	adminEmail string
	appBaseURL string
	logger     *zap.Logger
}

// NewContactService creates a new contact service
func NewContactService(mailer notify.Mailer, adminEmail, appBaseURL string) *ContactService {
	return &ContactService{
		mailer:     mailer,
		adminEmail: adminEmail,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		logger:     util.GetLogger(),
	}
}

// VerificationEmailRequest is the payload of the verification notice endpoint
type VerificationEmailRequest struct {
	UserID       string `json:"user_id"`
	Status       string `json:"status" binding:"required"`
	UserEmail    string `json:"user_email" binding:"required,loose_email"`
	UserName     string `json:"user_name"`
	BusinessName string `json:"business_name"`
}

// SendVerificationEmail renders and sends the status notice synchronously
func (s *ContactService) SendVerificationEmail(ctx context.Context, req *VerificationEmailRequest) error {
	ctx, span := util.StartSpan(ctx, "ContactService.SendVerificationEmail")
	defer span.End()

	if !validation.IsValidEmail(req.UserEmail) {
		return invalidf("user_email", "a valid user email is required")
	}
	if !models.IsValidVerificationStatus(req.Status) {
		return invalidf("status", "unknown verification status %q", req.Status)
	}

	msg, err := notify.VerificationStatusEmail(req.UserEmail, notify.VerificationStatusData{
		UserName:     req.UserName,
		BusinessName: req.BusinessName,
		Status:       req.Status,
		AppURL:       s.appBaseURL,
	})
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		util.RecordError(span, err)
		s.logger.Error("Failed to send verification email",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return err
	}
	return nil
}

// FormRequest is a contact or proposal form submission
type FormRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (r *FormRequest) validate(requireCompany bool) error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return invalidf("name", "name is required")
	case strings.TrimSpace(r.Email) == "":
		return invalidf("email", "email is required")
	case !validation.IsValidEmail(strings.TrimSpace(r.Email)):
		return invalidf("email", "enter a valid email address")
	case requireCompany && strings.TrimSpace(r.Company) == "":
		return invalidf("company", "company is required")
	case strings.TrimSpace(r.Message) == "":
		return invalidf("message", "message is required")
	}
	return nil
}

// SubmitContact forwards a contact form to the admin inbox
func (s *ContactService) SubmitContact(ctx context.Context, req *FormRequest) error {
	return s.forward(ctx, notify.TemplateContact, req, false)
}

// SubmitProposal forwards a proposal request to the admin inbox
func (s *ContactService) SubmitProposal(ctx context.Context, req *FormRequest) error {
	return s.forward(ctx, notify.TemplateProposal, req, true)
}

func (s *ContactService) forward(ctx context.Context, tmpl string, req *FormRequest, requireCompany bool) error {
	ctx, span := util.StartSpan(ctx, "ContactService.Submit")
	defer span.End()

	if err := req.validate(requireCompany); err != nil {
		return err
	}

	msg, err := notify.FormEmail(tmpl, s.adminEmail, notify.FormSubmission{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Company: strings.TrimSpace(req.Company),
		Phone:   req.Phone,
		Message: req.Message,
	})
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		util.RecordError(span, err)
		s.logger.Error("Failed to forward form", zap.String("template", tmpl), zap.Error(err))
		return err
	}
	return nil
}
