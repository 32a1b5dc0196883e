package lifecycle

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/ridepay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

// History returns the rider's payment history, newest first.
func (e *engine) History(ctx context.Context, riderID uuid.UUID, limit int) ([]models.PaymentHistoryEntry, error) {
	rows, err := e.repo.ListHistoryByRider(ctx, riderID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment history")
	}
	return rows, nil
}

// PendingEarnings returns the driver's earnings that have not been reversed,
// oldest first.
func (e *engine) PendingEarnings(ctx context.Context, driverID uuid.UUID) ([]models.DriverEarnings, error) {
	rows, err := e.repo.ListPayableEarnings(ctx, driverID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list driver earnings")
	}
	return rows, nil
}
