package provisioning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/openidx/hrsync/internal/common/errors"
	"github.com/openidx/hrsync/internal/directory"
	"github.com/openidx/hrsync/internal/feed"
	"github.com/openidx/hrsync/internal/operation"
)

// DefaultDateLayout is DD/MM/YYYY
const DefaultDateLayout = "02/01/2006"

// employeeStrategy tries to resolve an employee update. It reports whether
// the update was absorbed; an error stops the chain.
type employeeStrategy func(ctx context.Context, userID string, fields feed.Fields) (bool, error)

// Processor turns extract rows into pending operations. Employee updates
// may also write to the directory through the session it is given.
type Processor struct {
	repo       operation.Repository
	client     directory.Client
	dateLayout string
	logger     *zap.Logger

	employeeStrategies []employeeStrategy
}

// NewProcessor creates a processor writing to repo and updating accounts
// through client
func NewProcessor(repo operation.Repository, client directory.Client, dateLayout string, logger *zap.Logger) *Processor {
	if dateLayout == "" {
		dateLayout = DefaultDateLayout
	}
	p := &Processor{
		repo:       repo,
		client:     client,
		dateLayout: dateLayout,
		logger:     logger.With(zap.String("component", "processor")),
	}
	p.employeeStrategies = []employeeStrategy{
		p.updateAccount,
		p.updatePendingCreation,
		p.createInstead,
	}
	return p
}

// Dispatch routes a record to the handler of the file kind
func (p *Processor) Dispatch(ctx context.Context, kind feed.Kind, rec feed.Record) error {
	switch kind {
	case feed.KindHiring:
		return p.Creation(ctx, rec.UserID, rec.Fields)
	case feed.KindEmployeeUpdate:
		return p.EmployeeUpdate(ctx, rec.UserID, rec.Fields)
	case feed.KindPositionUpdate:
		return p.PositionUpdate(ctx, rec.UserID, rec.Fields)
	}
	return apperrors.RowValidation(fmt.Sprintf("no handler for %s records", kind))
}

// Creation schedules the account creation at date_begin and, when date_end
// is given, its deletion
func (p *Processor) Creation(ctx context.Context, userID string, fields feed.Fields) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	begin, ok := fields.Get(feed.FieldDateBegin)
	if !ok {
		return apperrors.RowValidation("missing date_begin field")
	}
	day, err := p.parseDate(feed.FieldDateBegin, begin)
	if err != nil {
		return err
	}

	op := operation.PendingOperation{
		UserID:        userID,
		Type:          operation.Creation,
		ScheduledDate: day,
		FirstName:     fields[feed.FieldFirstName],
		LastName:      fields[feed.FieldLastName],
		Email:         fields[feed.FieldEmail],
	}
	if err := p.repo.Upsert(ctx, op); err != nil {
		return err
	}
	p.logger.Debug("creation scheduled", zap.String("user_id", userID), zap.Time("date", day))

	return p.scheduleDeletion(ctx, userID, fields)
}

// EmployeeUpdate applies a name or email change. The first strategy that
// absorbs the change wins: the live account, then a pending creation, and
// finally the row is handled as a hiring.
func (p *Processor) EmployeeUpdate(ctx context.Context, userID string, fields feed.Fields) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	for _, strategy := range p.employeeStrategies {
		done, err := strategy(ctx, userID, fields)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// PositionUpdate moves the pending creation to date_begin and schedules the
// deletion at date_end. Names and email are left untouched.
func (p *Processor) PositionUpdate(ctx context.Context, userID string, fields feed.Fields) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	if begin, ok := fields.Get(feed.FieldDateBegin); ok {
		day, err := p.parseDate(feed.FieldDateBegin, begin)
		if err != nil {
			return err
		}
		key := operation.Key{UserID: userID, Type: operation.Creation}
		found, err := p.repo.Update(ctx, key, func(op *operation.PendingOperation) {
			op.ScheduledDate = day
		})
		if err != nil {
			return err
		}
		// no pending creation: the account already exists
		if found {
			p.logger.Debug("creation rescheduled", zap.String("user_id", userID), zap.Time("date", day))
		}
	}
	return p.scheduleDeletion(ctx, userID, fields)
}

func (p *Processor) updateAccount(ctx context.Context, userID string, fields feed.Fields) (bool, error) {
	changes := directory.Changes{
		FirstName: fields[feed.FieldFirstName],
		LastName:  fields[feed.FieldLastName],
		Email:     fields[feed.FieldEmail],
	}
	dn, changed, err := p.client.UpdateAccount(ctx, userID, changes)
	if apperrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.logger.Info("account updated",
		zap.String("user_id", userID),
		zap.String("dn", dn),
		zap.Bool("changed", changed),
	)
	return true, nil
}

func (p *Processor) updatePendingCreation(ctx context.Context, userID string, fields feed.Fields) (bool, error) {
	key := operation.Key{UserID: userID, Type: operation.Creation}
	return p.repo.Update(ctx, key, func(op *operation.PendingOperation) {
		if fields.Has(feed.FieldFirstName) {
			op.FirstName = fields[feed.FieldFirstName]
		}
		if fields.Has(feed.FieldLastName) {
			op.LastName = fields[feed.FieldLastName]
		}
		if fields.Has(feed.FieldEmail) {
			op.Email = fields[feed.FieldEmail]
		}
	})
}

func (p *Processor) createInstead(ctx context.Context, userID string, fields feed.Fields) (bool, error) {
	p.logger.Debug("no account nor pending creation, handling as a hiring", zap.String("user_id", userID))
	return true, p.Creation(ctx, userID, fields)
}

func (p *Processor) scheduleDeletion(ctx context.Context, userID string, fields feed.Fields) error {
	end, ok := fields.Get(feed.FieldDateEnd)
	if !ok {
		return nil
	}
	day, err := p.parseDate(feed.FieldDateEnd, end)
	if err != nil {
		return err
	}
	if err := p.repo.Upsert(ctx, operation.PendingOperation{
		UserID:        userID,
		Type:          operation.Deletion,
		ScheduledDate: day,
	}); err != nil {
		return err
	}
	p.logger.Debug("deletion scheduled", zap.String("user_id", userID), zap.Time("date", day))
	return nil
}

func (p *Processor) parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(p.dateLayout, value)
	if err != nil {
		return time.Time{}, apperrors.RowValidation(fmt.Sprintf("invalid %s %q", field, value)).
			WithDetails(err.Error())
	}
	return operation.Day(t), nil
}

func requireUserID(userID string) error {
	if userID == "" {
		return apperrors.RowValidation("user_id can't be empty")
	}
	return nil
}
