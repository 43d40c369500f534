package apperror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestFromDBClassifiesDriverErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"no rows", sql.ErrNoRows, KindNotFound},
		{"wrapped no rows", fmt.Errorf("failed to get product: %w", sql.ErrNoRows), KindNotFound},
		{"unique", &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}, KindConflict},
		{"foreign key", &pq.Error{Code: "23503"}, KindNotFound},
		{"check", &pq.Error{Code: "23514"}, KindValidation},
		{"privilege", &pq.Error{Code: "42501"}, KindPermissionDenied},
		{"connection", &pq.Error{Code: "08006"}, KindUnavailable},
		{"deadline", context.DeadlineExceeded, KindUnavailable},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := FromDB("store.Test", tc.err)
			assert.Equal(t, tc.want, KindOf(err))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestFromDBKeepsBackendTextOutOfMessage(t *testing.T) {
	err := FromDB("store.CreateOrder", &pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "orders_order_number_key"`})

	assert.Equal(t, "record already exists or was changed concurrently", Message(err))
	assert.Contains(t, err.Error(), "orders_order_number_key")
}

func TestFromDBPassesClassifiedErrorsThrough(t *testing.T) {
	original := New(KindPermissionDenied, "service.CreateProduct", "only distributors can create products")

	err := FromDB("store.CreateProduct", original)

	assert.Same(t, original, err)
	assert.Nil(t, FromDB("noop", nil))
}
