package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/notify"
	"marketplace-service/internal/util"
	"marketplace-service/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// SignupState is a step of the signup flow
type SignupState string

const (
	SignupCredentialsCollected SignupState = "credentials_collected"
	SignupRoleSelected         SignupState = "role_selected"
	SignupAccountCreated       SignupState = "account_created"
	SignupEmailVerified        SignupState = "email_verified"
	SignupProfileCompleted     SignupState = "profile_completed"
)

// SignupFlow carries one user through signup. Transitions only move forward
// except a failed account creation, which stays at SignupRoleSelected.
type SignupFlow struct {
	state    SignupState
	email    string
	password string
	role     string
	userID   uuid.UUID
	lastErr  error
}

// NewSignupFlow validates credentials without any backend call
func NewSignupFlow(email, password, confirm string) (*SignupFlow, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if !validation.IsValidEmail(email) {
		return nil, invalidf("email", "enter a valid email address")
	}
	if len(password) < minPasswordLength {
		return nil, invalidf("password", "password must be at least %d characters", minPasswordLength)
	}
	if password != confirm {
		return nil, invalidf("confirm_password", "passwords do not match")
	}
	return &SignupFlow{state: SignupCredentialsCollected, email: email, password: password}, nil
}

// ResumeSignupFlow rebuilds the flow for an account that already exists
func ResumeSignupFlow(session *models.Session) *SignupFlow {
	state := SignupAccountCreated
	if session.EmailConfirmed() {
		state = SignupEmailVerified
	}
	return &SignupFlow{state: state, email: session.Email, role: session.Role, userID: session.UserID}
}

// SelectRole picks retailer or distributor
func (f *SignupFlow) SelectRole(role string) error {
	if f.state != SignupCredentialsCollected && f.state != SignupRoleSelected {
		return invalidf("role", "role can no longer be changed")
	}
	if !models.IsValidRole(role) {
		return invalidf("role", "role must be retailer or distributor")
	}
	f.role = role
	f.state = SignupRoleSelected
	return nil
}

// State returns the current step
func (f *SignupFlow) State() SignupState { return f.state }

// UserID returns the created account's ID
func (f *SignupFlow) UserID() uuid.UUID { return f.userID }

// Role returns the selected role
func (f *SignupFlow) Role() string { return f.role }

// Err returns the error of the last failed transition
func (f *SignupFlow) Err() error { return f.lastErr }

// ProfileInput is the business profile collected after verification
type ProfileInput struct {
	FullName        string `json:"full_name" binding:"required"`
	Phone           string `json:"phone"`
	BusinessName    string `json:"business_name" binding:"required"`
	BusinessAddress string `json:"business_address"`
	BusinessPhone   string `json:"business_phone"`
	TaxID           string `json:"tax_id"`
	LicenseNumber   string `json:"license_number"`
}

// CompletionResult reports how CompleteProfile finished
type CompletionResult string

const (
	CompletionWritten          CompletionResult = "completed"
	CompletionFallback         CompletionResult = "completed_fallback"
	CompletionAlreadyCompleted CompletionResult = "already_completed"
)

// OnboardingService drives signup, verification and profile completion
type OnboardingService struct {
	accounts       AccountStore
	locker         Locker
	mail           MailQueue
	eventPublisher EventPublisher
	poller         *VerificationPoller
	lockTTL        time.Duration
	appBaseURL     string
	logger         *zap.Logger
}

// NewOnboardingService creates a new onboarding service
func NewOnboardingService(
	accounts AccountStore,
	locker Locker,
	mail MailQueue,
	eventPublisher EventPublisher,
	poller *VerificationPoller,
	lockTTL time.Duration,
	appBaseURL string,
) *OnboardingService {
	return &OnboardingService{
		accounts:       accounts,
		locker:         locker,
		mail:           mail,
		eventPublisher: eventPublisher,
		poller:         poller,
		lockTTL:        lockTTL,
		appBaseURL:     strings.TrimRight(appBaseURL, "/"),
		logger:         util.GetLogger(),
	}
}

// CreateAccount stores the account with its role and sends the confirmation
// email. On failure the flow stays at SignupRoleSelected.
func (s *OnboardingService) CreateAccount(ctx context.Context, flow *SignupFlow) (*models.Account, error) {
	ctx, span := util.StartSpan(ctx, "OnboardingService.CreateAccount")
	defer span.End()

	if flow.state != SignupRoleSelected {
		return nil, invalidf("role", "select a role before creating the account")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(flow.password), bcrypt.DefaultCost)
	if err != nil {
		flow.lastErr = err
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	account := &models.Account{
		Email:             flow.email,
		PasswordHash:      string(hash),
		Role:              flow.role,
		Metadata:          models.Metadata{"role": flow.role},
		ConfirmationToken: &token,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		util.RecordError(span, err)
		if apperror.Is(err, apperror.KindConflict) {
			err = &apperror.Error{Kind: apperror.KindConflict, Op: "onboarding.CreateAccount",
				Message: "an account with this email already exists", Err: err}
		}
		flow.lastErr = err
		return nil, err
	}

	flow.userID = account.ID
	flow.password = ""
	flow.lastErr = nil
	flow.state = SignupAccountCreated

	s.logger.Info("Account created",
		zap.String("user_id", account.ID.String()),
		zap.String("role", account.Role))

	s.sendConfirmation(ctx, account.Email, token)

	event := &models.AccountCreatedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeAccountCreated),
		UserID:    account.ID,
		Email:     account.Email,
		Role:      account.Role,
	}
	if err := s.eventPublisher.PublishAccountCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish AccountCreated event", zap.Error(err))
	}

	return account, nil
}

func (s *OnboardingService) sendConfirmation(ctx context.Context, email, token string) {
	link := s.appBaseURL + "/auth/confirm?token=" + url.QueryEscape(token)
	msg, err := notify.ConfirmEmail(email, notify.ConfirmEmailData{ConfirmURL: link})
	if err == nil {
		err = s.mail.EnqueueEmail(ctx, msg)
	}
	if err != nil {
		s.logger.Error("Failed to queue confirmation email", zap.String("email", email), zap.Error(err))
	}
}

// ConfirmEmail stamps the account behind token as confirmed
func (s *OnboardingService) ConfirmEmail(ctx context.Context, token string) (*models.Session, error) {
	ctx, span := util.StartSpan(ctx, "OnboardingService.ConfirmEmail")
	defer span.End()

	if token == "" {
		return nil, invalidf("token", "confirmation token is required")
	}
	account, err := s.accounts.ConfirmEmail(ctx, token)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return nil, apperror.New(apperror.KindNotFound, "onboarding.ConfirmEmail", "confirmation link is invalid or already used")
		}
		return nil, err
	}
	return models.SessionFromAccount(account), nil
}

// CurrentSession resolves the session for userID
func (s *OnboardingService) CurrentSession(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	account, err := s.accounts.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return models.SessionFromAccount(account), nil
}

// AwaitVerification polls the session until its email is confirmed
func (s *OnboardingService) AwaitVerification(ctx context.Context, flow *SignupFlow) (PollOutcome, error) {
	ctx, span := util.StartSpan(ctx, "OnboardingService.AwaitVerification")
	defer span.End()

	switch flow.state {
	case SignupEmailVerified, SignupProfileCompleted:
		return PollVerified, nil
	case SignupAccountCreated:
	default:
		return "", invalidf("state", "account has not been created yet")
	}

	outcome, err := s.poller.Poll(ctx, func(ctx context.Context) (bool, error) {
		session, err := s.CurrentSession(ctx, flow.userID)
		if err != nil {
			return false, err
		}
		return session.EmailConfirmed(), nil
	})
	if err != nil {
		return "", err
	}
	if outcome == PollVerified {
		flow.state = SignupEmailVerified
	}
	return outcome, nil
}

// FinishSignup completes the profile for a verified flow
func (s *OnboardingService) FinishSignup(ctx context.Context, flow *SignupFlow, input *ProfileInput) (CompletionResult, error) {
	if flow.state == SignupProfileCompleted {
		return CompletionAlreadyCompleted, nil
	}
	if flow.state != SignupEmailVerified {
		return "", invalidf("state", "email is not verified yet")
	}

	session, err := s.CurrentSession(ctx, flow.userID)
	if err != nil {
		flow.lastErr = err
		return "", err
	}
	result, err := s.CompleteProfile(ctx, session, input)
	if err != nil {
		flow.lastErr = err
		return "", err
	}
	flow.lastErr = nil
	// a fallback write is partial; the flow stays verified so a retry completes it
	if result != CompletionFallback {
		flow.state = SignupProfileCompleted
	}
	return result, nil
}

// CompleteProfile writes the profile, verification status and role rows
// exactly once per user, even when called twice or concurrently
func (s *OnboardingService) CompleteProfile(ctx context.Context, session *models.Session, input *ProfileInput) (CompletionResult, error) {
	ctx, span := util.StartSpan(ctx, "OnboardingService.CompleteProfile")
	defer span.End()

	if !session.EmailConfirmed() {
		return "", apperror.New(apperror.KindPermissionDenied, "onboarding.CompleteProfile", "confirm your email first")
	}
	if strings.TrimSpace(input.FullName) == "" {
		return "", invalidf("full_name", "full name is required")
	}
	if strings.TrimSpace(input.BusinessName) == "" {
		return "", invalidf("business_name", "business name is required")
	}

	if done, err := s.accounts.OnboardingComplete(ctx, session.UserID); err == nil && done {
		return CompletionAlreadyCompleted, nil
	}

	lockKey := "onboarding:" + session.UserID.String()
	token, acquired, err := s.locker.AcquireLock(ctx, lockKey, s.lockTTL)
	switch {
	case err != nil:
		s.logger.Warn("Onboarding lock unavailable, relying on idempotent writes",
			zap.String("user_id", session.UserID.String()), zap.Error(err))
	case !acquired:
		return "", apperror.New(apperror.KindConflict, "onboarding.CompleteProfile", "profile completion already in progress")
	default:
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
				s.logger.Warn("Failed to release onboarding lock", zap.Error(err))
			}
		}()
	}

	done, err := s.accounts.OnboardingComplete(ctx, session.UserID)
	if err != nil {
		return "", err
	}
	if done {
		return CompletionAlreadyCompleted, nil
	}

	completion := models.ProfileCompletion{
		UserID:   session.UserID,
		Email:    session.Email,
		Role:     session.Role,
		FullName: strings.TrimSpace(input.FullName),
		Phone:    input.Phone,
		Business: models.Business{
			UserID:          session.UserID,
			BusinessName:    strings.TrimSpace(input.BusinessName),
			BusinessAddress: input.BusinessAddress,
			Phone:           input.BusinessPhone,
			TaxID:           input.TaxID,
			LicenseNumber:   input.LicenseNumber,
		},
	}

	if err := s.accounts.CompleteOnboardingTx(ctx, completion); err != nil {
		s.logger.Error("Onboarding transaction failed, trying profile fallback",
			zap.String("user_id", session.UserID.String()), zap.Error(err))

		if ferr := s.accounts.UpsertProfile(ctx, completion); ferr != nil {
			util.RecordError(span, ferr)
			s.logger.Error("Profile fallback failed", zap.String("user_id", session.UserID.String()), zap.Error(ferr))
			return "", fmt.Errorf("failed to complete profile: %w", ferr)
		}
		util.OnboardingCompletedTotal.WithLabelValues("fallback").Inc()
		return CompletionFallback, nil
	}

	util.OnboardingCompletedTotal.WithLabelValues("transaction").Inc()
	s.logger.Info("Profile completed", zap.String("user_id", session.UserID.String()))
	return CompletionWritten, nil
}

// UpdateVerificationStatus records an admin review. The notification is
// published after the status commits and never rolls it back.
func (s *OnboardingService) UpdateVerificationStatus(ctx context.Context, userID uuid.UUID, status string) (*models.VerificationStatus, error) {
	ctx, span := util.StartSpan(ctx, "OnboardingService.UpdateVerificationStatus")
	defer span.End()

	if !models.IsValidVerificationStatus(status) {
		return nil, invalidf("status", "unknown verification status %q", status)
	}

	vs, err := s.accounts.UpdateVerificationStatus(ctx, userID, status)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Verification status updated",
		zap.String("user_id", userID.String()),
		zap.String("status", status))

	contact, err := s.accounts.GetVerificationContact(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load verification contact", zap.Error(err))
		return vs, nil
	}

	event := &models.VerificationStatusChangedEvent{
		BaseEvent:    models.NewBaseEvent(models.EventTypeVerificationStatusChanged),
		UserID:       userID,
		Status:       status,
		UserEmail:    contact.Email,
		UserName:     contact.FullName,
		BusinessName: contact.BusinessName,
	}
	if err := s.eventPublisher.PublishVerificationStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish VerificationStatusChanged event", zap.Error(err))
	}
	return vs, nil
}
