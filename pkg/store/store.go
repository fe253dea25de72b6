package store

import (
	"context"
	"errors"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/models"
)

var (
	// ErrNotFound means no intent exists for the given ID
	ErrNotFound = errors.New("intent not found in store")
	// ErrAlreadyExists means an intent with this ID was already created
	ErrAlreadyExists = errors.New("intent already exists")
	// ErrConflict means the stored status did not match the expected status
	// of a conditional update; the caller lost the race.
	ErrConflict = errors.New("intent status conflict")
)

// Repository is durable keyed storage for payment intents. Every state
// transition routes through ConditionalUpdate: a single atomic
// read-modify-write conditioned on the expected prior status, so concurrent
// writers for the same intent resolve to exactly one winner.
type Repository interface {
	// Create persists a new intent. ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, intent *models.PaymentIntent) error

	// GetByID returns a copy of the intent, ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*models.PaymentIntent, error)

	// ListByStatus returns copies of all intents currently in the given
	// status. Used by the reconciliation sweep.
	ListByStatus(ctx context.Context, status models.Status) ([]*models.PaymentIntent, error)

	// ConditionalUpdate applies mutate to the stored record only if its
	// status equals expected, returning the updated copy. ErrConflict if
	// the status moved on, ErrNotFound if the intent does not exist.
	ConditionalUpdate(ctx context.Context, id string, expected models.Status, mutate func(*models.PaymentIntent)) (*models.PaymentIntent, error)
}
