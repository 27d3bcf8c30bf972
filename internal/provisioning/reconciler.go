package provisioning

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/openidx/hrsync/internal/common/errors"
	"github.com/openidx/hrsync/internal/directory"
	"github.com/openidx/hrsync/internal/metrics"
	"github.com/openidx/hrsync/internal/operation"
)

// RunResult summarizes one reconciliation
type RunResult struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Missing  int `json:"missing"`
	Retained int `json:"retained"`
	Dropped  int `json:"dropped"`
}

// Fields returns the summary as log fields
func (r RunResult) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("created", r.Created),
		zap.Int("updated", r.Updated),
		zap.Int("deleted", r.Deleted),
		zap.Int("missing", r.Missing),
		zap.Int("retained", r.Retained),
		zap.Int("dropped", r.Dropped),
	}
}

// Reconciler applies due pending operations to the directory. Accounts are
// created the day before the start date and deleted the day after the end
// date.
type Reconciler struct {
	repo     operation.Repository
	recorder *metrics.Recorder
	logger   *zap.Logger
}

// NewReconciler creates a reconciler. recorder may be nil.
func NewReconciler(repo operation.Repository, recorder *metrics.Recorder, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "reconciler")),
	}
}

// Reconcile applies the operations due on today's calendar date. Items that
// fail for a transient reason stay pending; a transport error aborts the run
// before anything is removed.
func (r *Reconciler) Reconcile(ctx context.Context, client directory.Client, today time.Time) (RunResult, error) {
	var result RunResult
	day := operation.Day(today)

	creations, err := r.repo.Due(ctx, operation.Creation, day.AddDate(0, 0, 1))
	if err != nil {
		return result, err
	}
	deletions, err := r.repo.Due(ctx, operation.Deletion, day.AddDate(0, 0, -1))
	if err != nil {
		return result, err
	}

	r.logger.Info("reconciling",
		zap.Time("today", day),
		zap.Int("creations_due", len(creations)),
		zap.Int("deletions_due", len(deletions)),
	)

	retained := make(map[operation.Key]bool)

	for _, op := range creations {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		keep, err := r.create(ctx, client, op, &result)
		if err != nil {
			return result, err
		}
		if keep {
			retained[op.Key()] = true
		}
	}

	for _, op := range deletions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		keep, err := r.delete(ctx, client, op, &result)
		if err != nil {
			return result, err
		}
		if keep {
			retained[op.Key()] = true
		}
	}

	var done []operation.Key
	for _, op := range append(creations, deletions...) {
		if !retained[op.Key()] {
			done = append(done, op.Key())
		}
	}
	if _, err := r.repo.Delete(ctx, done...); err != nil {
		return result, err
	}

	r.record(result, retained)
	r.logger.Info("reconciliation finished", result.Fields()...)
	return result, nil
}

// create applies one creation and reports whether it must stay pending.
// Only transport errors are returned.
func (r *Reconciler) create(ctx context.Context, client directory.Client, op operation.PendingOperation, result *RunResult) (bool, error) {
	log := r.logger.With(zap.String("user_id", op.UserID), zap.String("operation", op.Type.String()))
	account := directory.Account{
		UserID:    op.UserID,
		FirstName: op.FirstName,
		LastName:  op.LastName,
		Email:     op.Email,
	}

	dn, _, err := client.CreateAccount(ctx, account)
	switch {
	case err == nil:
		result.Created++
		log.Info("account created", zap.String("dn", dn))
		return false, nil
	case apperrors.IsTransport(err):
		return false, err
	case apperrors.IsAlreadyExists(err):
		log.Warn("creation scheduled for an existing account, updating it instead")
		return r.updateExisting(ctx, client, account, result, log)
	case apperrors.IsValidation(err):
		result.Dropped++
		log.Error("creation dropped", zap.Error(err))
		return false, nil
	}
	result.Retained++
	log.Error("creation failed, keeping it for the next run", zap.Error(err))
	return true, nil
}

func (r *Reconciler) updateExisting(ctx context.Context, client directory.Client, account directory.Account, result *RunResult, log *zap.Logger) (bool, error) {
	dn, changed, err := client.UpdateAccount(ctx, account.UserID, account.Changes())
	switch {
	case err == nil:
		result.Updated++
		log.Info("account updated", zap.String("dn", dn), zap.Bool("changed", changed))
		return false, nil
	case apperrors.IsTransport(err):
		return false, err
	}
	result.Retained++
	log.Error("update of existing account failed, keeping the creation for the next run", zap.Error(err))
	return true, nil
}

// delete applies one deletion and reports whether it must stay pending.
// Only transport errors are returned.
func (r *Reconciler) delete(ctx context.Context, client directory.Client, op operation.PendingOperation, result *RunResult) (bool, error) {
	log := r.logger.With(zap.String("user_id", op.UserID), zap.String("operation", op.Type.String()))

	dn, err := client.DeleteAccount(ctx, op.UserID)
	switch {
	case err == nil:
		result.Deleted++
		log.Info("account deleted", zap.String("dn", dn))
		return false, nil
	case apperrors.IsTransport(err):
		return false, err
	case apperrors.IsNotFound(err):
		result.Missing++
		log.Warn("deletion scheduled for a nonexistent account")
		return false, nil
	}
	result.Retained++
	log.Error("deletion failed, keeping it for the next run", zap.Error(err))
	return true, nil
}

func (r *Reconciler) record(result RunResult, retained map[operation.Key]bool) {
	if r.recorder == nil {
		return
	}
	creation, deletion := operation.Creation.String(), operation.Deletion.String()
	r.recorder.RecordOperations(creation, metrics.OutcomeCreated, result.Created)
	r.recorder.RecordOperations(creation, metrics.OutcomeUpdated, result.Updated)
	r.recorder.RecordOperations(creation, metrics.OutcomeDropped, result.Dropped)
	r.recorder.RecordOperations(deletion, metrics.OutcomeDeleted, result.Deleted)
	r.recorder.RecordOperations(deletion, metrics.OutcomeMissing, result.Missing)
	kept := map[operation.Type]int{}
	for key := range retained {
		kept[key.Type]++
	}
	r.recorder.RecordOperations(creation, metrics.OutcomeRetained, kept[operation.Creation])
	r.recorder.RecordOperations(deletion, metrics.OutcomeRetained, kept[operation.Deletion])
}
