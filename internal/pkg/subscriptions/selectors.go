package subscriptions

import (
	"context"
	"strings"
	"time"

	"github.com/ManuelReschke/marketsub/app/models"
)

// ProductBySKU returns the active product for sku with its plan loaded, or
// nil when the SKU is unknown or switched off.
func (s *Service) ProductBySKU(ctx context.Context, sku string) (*models.SubscriptionProduct, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, nil
	}
	return s.repo.FindActiveProductBySKU(ctx, sku)
}

// ActiveSubscriptionFor returns the subscription entitling userID at asOf.
// With lockForUpdate the row stays locked until the caller's transaction
// ends, so it only makes sense on a repository obtained from WithTx.
func (s *Service) ActiveSubscriptionFor(ctx context.Context, userID uint, asOf time.Time, lockForUpdate bool) (*models.UserSubscription, error) {
	if userID == 0 {
		return nil, nil
	}
	return s.repo.FindActiveSubscription(ctx, userID, asOf, lockForUpdate)
}

// FeaturedCreditBalance sums the featured ledger entries of sub.
func (s *Service) FeaturedCreditBalance(ctx context.Context, sub *models.UserSubscription) (int, error) {
	if sub == nil {
		return 0, nil
	}
	return s.repo.SumCredits(ctx, sub.ID, models.CreditTypeFeatured)
}

// CreditHistory lists the ledger of a subscription oldest first.
func (s *Service) CreditHistory(ctx context.Context, subscriptionID string) ([]models.SubscriptionCreditLedger, error) {
	return s.repo.ListCredits(ctx, subscriptionID)
}

func (s *Service) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]models.UserSubscription, error) {
	return s.repo.ListSubscriptions(ctx, filter)
}

func (s *Service) ListProcessedOrders(ctx context.Context, limit int) ([]models.ProcessedSubscriptionOrder, error) {
	return s.repo.ListProcessedOrders(ctx, limit)
}
