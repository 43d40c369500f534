package store

import (
	"context"
	"fmt"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateAccount inserts a new unconfirmed account
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (email, password_hash, role, metadata, confirmation_token)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := s.db.QueryRowxContext(ctx, query,
		account.Email, account.PasswordHash, account.Role, account.Metadata, account.ConfirmationToken,
	).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		return apperror.FromDB("store.CreateAccount", err)
	}
	return nil
}

// GetAccountByID retrieves an account by ID
func (s *Store) GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := s.db.GetContext(ctx, &account, "SELECT * FROM accounts WHERE id = $1", id); err != nil {
		return nil, apperror.FromDB("store.GetAccountByID", err)
	}
	return &account, nil
}

// ConfirmEmail stamps email_confirmed_at for the token's account and burns the token
func (s *Store) ConfirmEmail(ctx context.Context, token string) (*models.Account, error) {
	var account models.Account
	err := s.db.GetContext(ctx, &account, `
		UPDATE accounts
		SET email_confirmed_at = COALESCE(email_confirmed_at, NOW()), confirmation_token = NULL
		WHERE confirmation_token = $1
		RETURNING *`, token)
	if err != nil {
		return nil, apperror.FromDB("store.ConfirmEmail", err)
	}
	return &account, nil
}

// OnboardingComplete reports whether the profile, verification status and
// role rows have all been written. A fallback write leaves only the profile.
func (s *Store) OnboardingComplete(ctx context.Context, userID uuid.UUID) (bool, error) {
	var complete bool
	err := s.db.GetContext(ctx, &complete, `
		SELECT EXISTS(SELECT 1 FROM profiles WHERE user_id = $1)
			AND EXISTS(SELECT 1 FROM verification_statuses WHERE user_id = $1)
			AND (EXISTS(SELECT 1 FROM retailers WHERE user_id = $1)
				OR EXISTS(SELECT 1 FROM distributors WHERE user_id = $1))`, userID)
	if err != nil {
		return false, apperror.FromDB("store.OnboardingComplete", err)
	}
	return complete, nil
}

func businessTable(role string) (string, error) {
	switch role {
	case models.RoleRetailer:
		return "retailers", nil
	case models.RoleDistributor:
		return "distributors", nil
	}
	return "", apperror.New(apperror.KindValidation, "store.businessTable", fmt.Sprintf("unknown role %q", role))
}

// CompleteOnboardingTx writes the profile, verification status and role rows
// together. Re-running it is harmless: the status row is insert-only so an
// admin decision is never reset.
func (s *Store) CompleteOnboardingTx(ctx context.Context, pc models.ProfileCompletion) error {
	table, err := businessTable(pc.Role)
	if err != nil {
		return err
	}

	return s.withTx(ctx, "store.CompleteOnboardingTx", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (user_id, email, full_name, phone, role)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO UPDATE
			SET full_name = EXCLUDED.full_name, phone = EXCLUDED.phone, updated_at = NOW()`,
			pc.UserID, pc.Email, pc.FullName, pc.Phone, pc.Role); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO verification_statuses (user_id, status)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING`,
			pc.UserID, models.VerificationPending); err != nil {
			return err
		}

		b := pc.Business
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (user_id, business_name, business_address, phone, tax_id, license_number)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id) DO UPDATE
			SET business_name = EXCLUDED.business_name,
				business_address = EXCLUDED.business_address,
				phone = EXCLUDED.phone,
				tax_id = EXCLUDED.tax_id,
				license_number = EXCLUDED.license_number,
				updated_at = NOW()`, table),
			pc.UserID, b.BusinessName, b.BusinessAddress, b.Phone, b.TaxID, b.LicenseNumber)
		return err
	})
}

// UpsertProfile is the single-statement fallback used when the full
// onboarding transaction fails
func (s *Store) UpsertProfile(ctx context.Context, pc models.ProfileCompletion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, email, full_name, phone, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET full_name = EXCLUDED.full_name, phone = EXCLUDED.phone, updated_at = NOW()`,
		pc.UserID, pc.Email, pc.FullName, pc.Phone, pc.Role)
	if err != nil {
		return apperror.FromDB("store.UpsertProfile", err)
	}
	return nil
}

// UpdateVerificationStatus sets the admin review status
func (s *Store) UpdateVerificationStatus(ctx context.Context, userID uuid.UUID, status string) (*models.VerificationStatus, error) {
	var vs models.VerificationStatus
	err := s.db.GetContext(ctx, &vs, `
		INSERT INTO verification_statuses (user_id, status)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		RETURNING user_id, status, updated_at`, userID, status)
	if err != nil {
		return nil, apperror.FromDB("store.UpdateVerificationStatus", err)
	}
	return &vs, nil
}

// GetVerificationContact resolves the email, name and business for notifications
func (s *Store) GetVerificationContact(ctx context.Context, userID uuid.UUID) (*models.VerificationContact, error) {
	var contact models.VerificationContact
	err := s.db.GetContext(ctx, &contact, `
		SELECT a.id AS user_id,
			a.email,
			COALESCE(p.full_name, '') AS full_name,
			COALESCE(r.business_name, d.business_name, '') AS business_name
		FROM accounts a
		LEFT JOIN profiles p ON p.user_id = a.id
		LEFT JOIN retailers r ON r.user_id = a.id
		LEFT JOIN distributors d ON d.user_id = a.id
		WHERE a.id = $1`, userID)
	if err != nil {
		return nil, apperror.FromDB("store.GetVerificationContact", err)
	}
	return &contact, nil
}
