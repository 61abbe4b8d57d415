package repositories

import (
	"context"
	"errors"

	"lung-screening-service/internal/domain/entities"

	"github.com/google/uuid"
)

// ErrExaminationNotFound is returned by lookups of an unknown examination.
var ErrExaminationNotFound = errors.New("examination not found")

// ExaminationRepositoryContract is the durable store of finalized
// examinations. It performs no deduplication; identifier uniqueness is the
// responsibility of whoever creates the records.
type ExaminationRepositoryContract interface {
	// Append adds one finalized examination.
	Append(ctx context.Context, exam *entities.Examination) error
	// ListAll returns every stored examination in insertion order.
	ListAll(ctx context.Context) ([]*entities.Examination, error)
	// DeleteByID removes every stored record carrying the examination id.
	// It returns ErrExaminationNotFound when there was none.
	DeleteByID(ctx context.Context, examinationID uuid.UUID) error
	// DeleteAll empties the store.
	DeleteAll(ctx context.Context) error
}
