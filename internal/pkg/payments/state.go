package payments

import (
	"context"
	"fmt"

	"github.com/carboncube/tierpay/app/models"
)

var transitions = map[string][]string{
	models.PaymentStatusInitiated: {
		models.PaymentStatusPending,
		models.PaymentStatusFailed,
		models.PaymentStatusCancelled,
	},
	models.PaymentStatusPending: {
		models.PaymentStatusProcessing,
		models.PaymentStatusCompleted,
		models.PaymentStatusFailed,
		models.PaymentStatusCancelled,
	},
	models.PaymentStatusProcessing: {
		models.PaymentStatusCompleted,
		models.PaymentStatusFailed,
		models.PaymentStatusCancelled,
	},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// sourcesOf lists every status that may move to the target.
func sourcesOf(to string) []string {
	var out []string
	for _, from := range openStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// transition moves tx to the target status with a compare-and-set update.
// A transaction already in a terminal status is left untouched and reported
// as not won, without error. On success tx is reloaded.
func (s *Service) transition(ctx context.Context, repo Repository, tx *models.PaymentTransaction, to string, fields map[string]any) (bool, error) {
	if tx.IsTerminal() {
		return false, nil
	}
	if !CanTransition(tx.Status, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, to)
	}

	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	now := s.now()
	switch to {
	case models.PaymentStatusCompleted:
		updates["completed_at"] = now
	case models.PaymentStatusFailed:
		updates["failed_at"] = now
	case models.PaymentStatusCancelled:
		updates["cancelled_at"] = now
	}
	if models.IsTerminalStatus(to) {
		updates["active_key"] = nil
	}

	won, err := repo.TransitionStatus(ctx, tx.ID, sourcesOf(to), updates)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	fresh, err := repo.GetTransaction(ctx, tx.ID)
	if err != nil {
		return true, err
	}
	*tx = *fresh
	return true, nil
}
