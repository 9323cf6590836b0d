// README: Transaction lifecycle manager: gateway registration, webhook reconciliation, compensating cancel, refund, expiry.
package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"autoszkola/internal/gateway"
	"autoszkola/internal/modules/course"
	"autoszkola/internal/types"
)

var (
	ErrNotFound      = errors.New("transaction not found")
	ErrConflict      = errors.New("transaction state conflict")
	ErrInvalidState  = errors.New("invalid transaction state transition")
	ErrPriceMismatch = errors.New("declared total does not match item sum")
	ErrNoItems       = errors.New("transaction has no items")
)

// Gateway is the outbound payment provider surface.
type Gateway interface {
	Register(ctx context.Context, req gateway.RegisterRequest) (gateway.RegisterResult, error)
	Refund(ctx context.Context, externalID string, amount types.Money) error
}

// RideCanceller unwinds a course's planned rides when the course item
// is compensated. Runs outside the settlement transaction; failures
// are logged as inconsistencies.
type RideCanceller interface {
	CancelAll(ctx context.Context, courseID int64, requestorID int64) error
}

// Notifier delivers the payment-completed message (email templating is
// an external collaborator).
type Notifier interface {
	PaymentCompleted(ctx context.Context, t *Transaction)
}

type Service struct {
	pool        *pgxpool.Pool
	store       *Store
	courses     *course.Store
	gateway     Gateway
	rides       RideCanceller
	notifier    Notifier
	timer       Timer
	expiryGrace time.Duration
	logger      *zap.Logger
}

func NewService(
	pool *pgxpool.Pool,
	store *Store,
	courses *course.Store,
	gw Gateway,
	rides RideCanceller,
	notifier Notifier,
	timer Timer,
	expiryGrace time.Duration,
	logger *zap.Logger,
) *Service {
	return &Service{
		pool:        pool,
		store:       store,
		courses:     courses,
		gateway:     gw,
		rides:       rides,
		notifier:    notifier,
		timer:       timer,
		expiryGrace: expiryGrace,
		logger:      logger,
	}
}

type CreateCommand struct {
	SchoolID      int64
	CourseID      *int64
	Items         []TransactionItem
	PayerName     string
	PayerEmail    string
	DeclaredTotal types.Money
	Description   string
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// Create validates the price sum before any gateway call, registers the
// payment, persists the Registered transaction, and arms the expiry
// timer.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Transaction, error) {
	if len(cmd.Items) == 0 {
		return nil, ErrNoItems
	}
	if sum := SumItems(cmd.Items); sum.Amount != cmd.DeclaredTotal.Amount {
		return nil, ErrPriceMismatch
	}

	id := uuid.New()
	reg, err := s.gateway.Register(ctx, gateway.RegisterRequest{
		Amount:      cmd.DeclaredTotal,
		Description: cmd.Description,
		HiddenRef:   id.String(),
		PayerName:   cmd.PayerName,
		PayerEmail:  cmd.PayerEmail,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	t := &Transaction{
		ID:           id,
		SchoolID:     cmd.SchoolID,
		CourseID:     cmd.CourseID,
		Items:        cmd.Items,
		PayerName:    cmd.PayerName,
		PayerEmail:   cmd.PayerEmail,
		Total:        cmd.DeclaredTotal,
		Status:       StatusRegistered,
		RegisteredAt: now,
		UpdatedAt:    now,
		ExternalID:   reg.ExternalID,
		Title:        reg.Title,
		PaymentURL:   reg.PaymentURL,
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.store.WithTx(tx).Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	s.timer.After(s.expiryGrace, func() {
		if err := s.ExpireIfPending(context.Background(), id); err != nil {
			s.logger.Error("expiry timer failed", zap.String("transaction_id", id.String()), zap.Error(err))
		}
	})

	s.logger.Info("transaction registered",
		zap.String("transaction_id", id.String()),
		zap.String("title", reg.Title),
		zap.Int64("amount", cmd.DeclaredTotal.Amount))
	return t, nil
}

// HandleNotification reconciles a webhook event against the persisted
// state. Unknown titles and replays of already-applied events are
// acknowledged without acting, so the provider never retries forever.
func (s *Service) HandleNotification(ctx context.Context, title, status string) error {
	t, err := s.store.GetByTitle(ctx, title)
	if errors.Is(err, ErrNotFound) {
		s.logger.Info("notification for unknown transaction ignored", zap.String("title", title))
		return nil
	}
	if err != nil {
		return err
	}

	kind := ParseNotificationStatus(status)

	switch t.Status {
	case StatusRegistered:
		switch kind {
		case NotifPaid:
			return s.complete(ctx, t)
		case NotifCanceled:
			// Not a chargeback echo, a genuine decline/cancel.
			return s.cancel(ctx, t)
		default:
			// Chargeback echoes and unknown statuses are acknowledged.
			return nil
		}
	case StatusComplete:
		if kind == NotifChargeback {
			return s.markRefund(ctx, t)
		}
		return nil
	case StatusCanceled:
		switch kind {
		case NotifChargeback:
			// Captured funds went back after the cancellation.
			return s.markRefund(ctx, t)
		case NotifPaid:
			// The payer finished after expiry unwound the order. Push
			// the captured funds back; failure is an inconsistency for
			// the operator, the webhook is still acknowledged.
			if err := s.gateway.Refund(ctx, t.ExternalID, t.Total); err != nil {
				s.logger.Error("refund of late payment failed, manual follow-up required",
					zap.String("transaction_id", t.ID.String()), zap.Error(err))
			}
			return nil
		default:
			return nil
		}
	case StatusRefund:
		// Already settled; respond success without re-acting.
		return nil
	}
	return nil
}

// Complete settles a Registered transaction: state, timestamps, course
// payment flag, and the completion notification.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.complete(ctx, t)
}

func (s *Service) complete(ctx context.Context, t *Transaction) error {
	if !CanTransition(t.Status, StatusComplete) {
		return ErrInvalidState
	}

	now := time.Now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ok, err := s.store.WithTx(tx).UpdateStatus(ctx, t.ID, t.Status, StatusComplete, t.StatusVersion, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		if t.CourseID != nil {
			if err := s.courses.WithTx(tx).MarkSettled(ctx, *t.CourseID); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrConflict) {
		// Someone else applied the event first; replay is a no-op.
		s.logger.Info("completion already applied", zap.String("transaction_id", t.ID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	s.notifier.PaymentCompleted(ctx, t)
	s.logger.Info("transaction complete", zap.String("transaction_id", t.ID.String()))
	return nil
}

// Cancel compensates a Registered transaction. The state change,
// course deletion, and hours-package deletion commit atomically; ride
// cancellation fans out afterwards and logs any failure as an
// inconsistency needing operator attention.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.cancel(ctx, t)
}

func (s *Service) cancel(ctx context.Context, t *Transaction) error {
	if !CanTransition(t.Status, StatusCanceled) {
		return ErrInvalidState
	}

	var courseIDs, hoursIDs []int64
	for _, item := range t.Items {
		switch item.Type {
		case ItemCourse:
			if item.RelatedID != nil {
				courseIDs = append(courseIDs, *item.RelatedID)
			}
		case ItemAdditionalHour:
			if item.RelatedID != nil {
				hoursIDs = append(hoursIDs, *item.RelatedID)
			}
		}
	}

	now := time.Now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ok, err := s.store.WithTx(tx).UpdateStatus(ctx, t.ID, t.Status, StatusCanceled, t.StatusVersion, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		txCourses := s.courses.WithTx(tx)
		for _, cid := range courseIDs {
			if err := txCourses.DeleteCourse(ctx, cid); err != nil && !errors.Is(err, course.ErrNotFound) {
				return err
			}
		}
		for _, hid := range hoursIDs {
			if err := txCourses.DeleteHoursPackage(ctx, hid); err != nil && !errors.Is(err, course.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrConflict) {
		s.logger.Info("cancellation raced with settlement, backing off", zap.String("transaction_id", t.ID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	for _, cid := range courseIDs {
		if err := s.rides.CancelAll(ctx, cid, 0); err != nil {
			s.logger.Error("ride unwind after transaction cancel failed, manual follow-up required",
				zap.String("transaction_id", t.ID.String()),
				zap.Int64("course_id", cid),
				zap.Error(err))
		}
	}

	s.logger.Info("transaction canceled", zap.String("transaction_id", t.ID.String()))
	return nil
}

// Refund pushes back the full captured amount of a Complete
// transaction. A gateway failure leaves the state untouched and
// surfaces as retryable.
func (s *Service) Refund(ctx context.Context, id uuid.UUID) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != StatusComplete {
		return ErrInvalidState
	}

	if err := s.gateway.Refund(ctx, t.ExternalID, t.Total); err != nil {
		return errors.Wrap(err, "gateway refund")
	}
	return s.markRefund(ctx, t)
}

func (s *Service) markRefund(ctx context.Context, t *Transaction) error {
	if !CanTransition(t.Status, StatusRefund) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, t.ID, t.Status, StatusRefund, t.StatusVersion, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		// Replay; already refunded.
		return nil
	}
	s.logger.Info("transaction refunded", zap.String("transaction_id", t.ID.String()))
	return nil
}

// ExpireIfPending is the timer action: cancel only if the transaction
// is still Registered. Whoever observes Registered first wins; the
// other actor sees a different state and backs off.
func (s *Service) ExpireIfPending(ctx context.Context, id uuid.UUID) error {
	t, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if t.Status != StatusRegistered {
		return nil
	}
	s.logger.Info("expiring unpaid transaction", zap.String("transaction_id", id.String()))
	return s.cancel(ctx, t)
}

// RunExpirySweeper periodically cancels transactions whose in-process
// timers were lost to a restart. Safe to run alongside the timers:
// both paths dispatch on persisted state.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := s.store.ListRegisteredBefore(ctx, time.Now().Add(-s.expiryGrace))
			if err != nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			for _, id := range ids {
				if err := s.ExpireIfPending(ctx, id); err != nil {
					s.logger.Error("expiry sweep cancel failed", zap.String("transaction_id", id.String()), zap.Error(err))
				}
			}
		}
	}
}
