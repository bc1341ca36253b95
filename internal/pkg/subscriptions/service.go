package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/marketsub/app/models"
)

// Service owns every state transition of subscriptions and the credit
// ledger. Mutations run inside one transaction each.
type Service struct {
	repo     Repository
	now      func() time.Time
	recorder Recorder
}

// Recorder receives outcome counts after each committed transition.
type Recorder interface {
	Add(ctx context.Context, name string, n int64)
}

// Outcome names passed to the Recorder.
const (
	OutcomeActivated   = "activations"
	OutcomeRenewed     = "renewals"
	OutcomeDuplicate   = "duplicate_orders"
	OutcomeIgnored     = "ignored_items"
	OutcomeConsumed    = "credit_consumptions"
	OutcomeExpired     = "expirations"
	OutcomePeriodGrant = "periodic_grants"
	OutcomeAdminGrant  = "admin_grants"
)

type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests and backfills.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRecorder reports outcomes to r, typically Redis backed counters.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates a subscription service from an injected repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromDB creates a subscription service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, opts ...Option) *Service {
	return NewService(NewRepository(db), opts...)
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) record(ctx context.Context, name string, n int64) {
	if s.recorder != nil && n > 0 {
		s.recorder.Add(ctx, name, n)
	}
}

// ActivateOrRenew applies one paid order line for userID.
//
// The result is nil without error when the item's SKU matches no active
// product or the user does not exist, whether or not the order carries a
// reference. A redelivered order returns the current active subscription
// and changes nothing.
func (s *Service) ActivateOrRenew(ctx context.Context, order Order, item OrderItem, userID uint) (*models.UserSubscription, error) {
	sku := item.ResolvedSKU()
	if sku == "" || userID == 0 {
		return nil, nil
	}

	var (
		ref     string
		result  *models.UserSubscription
		outcome string
	)
	err := s.repo.WithTx(ctx, func(repo Repository) error {
		product, err := repo.FindActiveProductBySKU(ctx, sku)
		if err != nil {
			return fmt.Errorf("lookup product %s: %w", sku, err)
		}
		if product == nil {
			outcome = "unknown_sku"
			return nil
		}
		user, err := repo.FindUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("lookup user %d: %w", userID, err)
		}
		if user == nil {
			outcome = "unknown_user"
			return nil
		}

		ref, err = DeriveOrderReference(order, item)
		if err != nil {
			return err
		}

		now := s.now()
		processed, err := repo.OrderProcessed(ctx, ref)
		if err != nil {
			return fmt.Errorf("check processed order: %w", err)
		}
		if processed {
			outcome = "duplicate"
			result, err = repo.FindActiveSubscription(ctx, userID, now, false)
			return err
		}

		if _, err := repo.ExpireDue(ctx, now); err != nil {
			return fmt.Errorf("expire due subscriptions: %w", err)
		}

		current, err := repo.FindActiveSubscription(ctx, userID, now, true)
		if err != nil {
			return fmt.Errorf("lock active subscription: %w", err)
		}

		if current != nil && current.PlanID == product.PlanID {
			current.Extend(product.PeriodLength(), ref)
			if err := repo.SaveSubscriptionPeriod(ctx, current); err != nil {
				return fmt.Errorf("renew subscription %s: %w", current.ID, err)
			}
			outcome = "renewed"
			result = current
		} else {
			if current != nil {
				current.MarkExpired()
				if err := repo.SaveSubscriptionStatus(ctx, current); err != nil {
					return fmt.Errorf("expire replaced subscription %s: %w", current.ID, err)
				}
			}
			sub := &models.UserSubscription{
				UserID:                 userID,
				PlanID:                 product.PlanID,
				Status:                 models.SubscriptionStatusActive,
				StartedAt:              now,
				CurrentPeriodStart:     now,
				CurrentPeriodEnd:       now.Add(product.PeriodLength()),
				LastPaidOrderReference: ref,
			}
			if err := repo.CreateSubscription(ctx, sub); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: user %d: %w", ErrActiveSubscriptionConflict, userID, err)
				}
				return fmt.Errorf("create subscription: %w", err)
			}
			sub.Plan = product.Plan
			outcome = "activated"
			result = sub
		}

		if err := repo.CreateProcessedOrder(ctx, &models.ProcessedSubscriptionOrder{
			OrderReference: ref,
			UserID:         userID,
			PlanID:         product.PlanID,
			ProcessedAt:    now,
		}); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s: %w", ErrOrderAlreadyProcessed, ref, err)
			}
			return fmt.Errorf("record processed order: %w", err)
		}

		if _, err := grantCredits(ctx, repo, result, models.CreditReasonActivationGrant, &ref, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch outcome {
	case "activated", "renewed":
		log.Infof("[Subscriptions] Order %s %s subscription %s for user %d (plan %s, ends %s)",
			ref, outcome, result.ID, userID, result.PlanID, result.CurrentPeriodEnd.Format(time.RFC3339))
		if outcome == "activated" {
			s.record(ctx, OutcomeActivated, 1)
		} else {
			s.record(ctx, OutcomeRenewed, 1)
		}
	case "duplicate":
		log.Infof("[Subscriptions] Order %s already processed, skipping", ref)
		s.record(ctx, OutcomeDuplicate, 1)
	default:
		log.Debugf("[Subscriptions] Order %s ignored for user %d: %s", ref, userID, outcome)
		s.record(ctx, OutcomeIgnored, 1)
	}
	return result, nil
}

// ExpireDue moves every active subscription whose period ended at or
// before asOf to expired. Running it twice changes nothing the second time.
func (s *Service) ExpireDue(ctx context.Context, asOf time.Time) (int64, error) {
	n, err := s.repo.ExpireDue(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("expire due subscriptions: %w", err)
	}
	if n > 0 {
		log.Infof("[Subscriptions] Expired %d subscriptions due by %s", n, asOf.Format(time.RFC3339))
		s.record(ctx, OutcomeExpired, n)
	}
	return n, nil
}

// GrantCredits appends the plan's per-period featured credits to the
// ledger of sub. Plans granting nothing produce no entry and a nil result.
func (s *Service) GrantCredits(ctx context.Context, sub *models.UserSubscription, reason string, orderReference *string) (*models.SubscriptionCreditLedger, error) {
	if sub == nil {
		return nil, nil
	}
	return grantCredits(ctx, s.repo, sub, reason, orderReference, s.now())
}

func grantCredits(ctx context.Context, repo Repository, sub *models.UserSubscription, reason string, orderReference *string, at time.Time) (*models.SubscriptionCreditLedger, error) {
	plan := sub.Plan
	if plan.ID == "" {
		p, err := repo.FindPlan(ctx, sub.PlanID)
		if err != nil {
			return nil, fmt.Errorf("load plan %s: %w", sub.PlanID, err)
		}
		if p == nil {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, sub.PlanID)
		}
		plan = *p
	}
	if plan.FeaturedCreditsPerPeriod <= 0 {
		return nil, nil
	}

	entry := &models.SubscriptionCreditLedger{
		UserID:                sub.UserID,
		SubscriptionID:        sub.ID,
		CreditType:            models.CreditTypeFeatured,
		Change:                plan.FeaturedCreditsPerPeriod,
		Reason:                reason,
		RelatedOrderReference: orderReference,
		CreatedAt:             at,
	}
	if err := repo.AppendCredit(ctx, entry); err != nil {
		return nil, fmt.Errorf("append %s credits to %s: %w", reason, sub.ID, err)
	}
	return entry, nil
}

// ConsumeCredit spends one featured credit of sub. It reports false when
// the subscription is no longer active or the balance is exhausted.
func (s *Service) ConsumeCredit(ctx context.Context, sub *models.UserSubscription, listingID *string, reason string) (bool, error) {
	if sub == nil {
		return false, nil
	}
	if reason == "" {
		reason = models.CreditReasonConsume
	}

	consumed := false
	err := s.repo.WithTx(ctx, func(repo Repository) error {
		locked, err := repo.FindSubscription(ctx, sub.ID, models.SubscriptionStatusActive, true)
		if err != nil {
			return fmt.Errorf("lock subscription %s: %w", sub.ID, err)
		}
		if locked == nil {
			return nil
		}
		balance, err := repo.SumCredits(ctx, locked.ID, models.CreditTypeFeatured)
		if err != nil {
			return fmt.Errorf("sum credits of %s: %w", locked.ID, err)
		}
		if balance < 1 {
			return nil
		}
		if err := repo.AppendCredit(ctx, &models.SubscriptionCreditLedger{
			UserID:           locked.UserID,
			SubscriptionID:   locked.ID,
			CreditType:       models.CreditTypeFeatured,
			Change:           -1,
			Reason:           reason,
			RelatedListingID: listingID,
			CreatedAt:        s.now(),
		}); err != nil {
			return fmt.Errorf("append consumption to %s: %w", locked.ID, err)
		}
		consumed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if consumed {
		s.record(ctx, OutcomeConsumed, 1)
	}
	return consumed, nil
}

// GrantPeriodicCredits tops up every active subscription whose current
// period started on asOf's calendar day (UTC). Each grant carries the key
// returned by PeriodGrantReference for that day and a subscription already
// holding it is skipped, so the job can be rerun for any date. It returns
// how many grants were written.
func (s *Service) GrantPeriodicCredits(ctx context.Context, asOf time.Time) (int, error) {
	dayStart, dayEnd := dayBounds(asOf)
	key := PeriodGrantReference(dayStart)
	subs, err := s.repo.ListActivePeriodStarts(ctx, dayStart, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("list period starts: %w", err)
	}

	granted := 0
	for i := range subs {
		sub := &subs[i]
		if sub.Plan.FeaturedCreditsPerPeriod <= 0 {
			continue
		}
		err := s.repo.WithTx(ctx, func(repo Repository) error {
			locked, err := repo.FindSubscription(ctx, sub.ID, models.SubscriptionStatusActive, true)
			if err != nil || locked == nil {
				return err
			}
			exists, err := repo.HasCreditReference(ctx, locked.ID, models.CreditReasonMonthlyGrant, key)
			if err != nil || exists {
				return err
			}
			entry, err := grantCredits(ctx, repo, locked, models.CreditReasonMonthlyGrant, &key, s.now())
			if err != nil {
				return err
			}
			if entry != nil {
				granted++
			}
			return nil
		})
		if err != nil {
			s.record(ctx, OutcomePeriodGrant, int64(granted))
			return granted, fmt.Errorf("grant periodic credits to %s: %w", sub.ID, err)
		}
	}
	s.record(ctx, OutcomePeriodGrant, int64(granted))

	log.Infof("[Subscriptions] Periodic credit run for %s granted %d of %d candidates",
		dayStart.Format(periodDateLayout), granted, len(subs))
	return granted, nil
}

const periodDateLayout = "2006-01-02"

// PeriodGrantReference is the ledger reference of the monthly grant for the
// period starting on day's UTC date.
func PeriodGrantReference(day time.Time) string {
	return models.CreditReasonMonthlyGrant + ":" + day.UTC().Format(periodDateLayout)
}

// dayBounds returns the half-open UTC day [start, end) containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
