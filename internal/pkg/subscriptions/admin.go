package subscriptions

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/marketsub/app/models"
)

// ForceExpire expires the selected subscriptions that are still active,
// leaving their periods untouched. It returns how many rows changed.
func (s *Service) ForceExpire(ctx context.Context, ids []string) (int64, error) {
	n, err := s.repo.ExpireByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("force expire: %w", err)
	}
	log.Infof("[Subscriptions] Admin expired %d of %d selected subscriptions", n, len(ids))
	return n, nil
}

// GrantPlanCredits gives each selected subscription one period's worth of
// featured credits with reason admin_grant. Subscriptions on plans that
// grant nothing are skipped.
func (s *Service) GrantPlanCredits(ctx context.Context, ids []string) (int, error) {
	subs, err := s.repo.ListSubscriptionsByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("load selected subscriptions: %w", err)
	}
	granted := 0
	for i := range subs {
		entry, err := s.GrantCredits(ctx, &subs[i], models.CreditReasonAdminGrant, nil)
		if err != nil {
			return granted, err
		}
		if entry != nil {
			granted++
		}
	}
	s.record(ctx, OutcomeAdminGrant, int64(granted))
	log.Infof("[Subscriptions] Admin granted plan credits to %d of %d selected subscriptions", granted, len(ids))
	return granted, nil
}

// Cancel ends an active subscription immediately.
func (s *Service) Cancel(ctx context.Context, id string) (*models.UserSubscription, error) {
	var result *models.UserSubscription
	err := s.repo.WithTx(ctx, func(repo Repository) error {
		sub, err := repo.FindSubscription(ctx, id, models.SubscriptionStatusActive, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return ErrSubscriptionNotFound
		}
		sub.MarkCancelled(s.now())
		if err := repo.SaveSubscriptionStatus(ctx, sub); err != nil {
			return fmt.Errorf("cancel subscription %s: %w", id, err)
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Subscriptions] Subscription %s of user %d cancelled", result.ID, result.UserID)
	return result, nil
}
