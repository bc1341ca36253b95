package entitlements

import (
	"context"

	"github.com/ManuelReschke/marketsub/app/models"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

// Reason explains a CanPostListing answer.
type Reason string

const (
	ReasonNoActiveSubscription Reason = "no_active_subscription"
	ReasonUnlimited            Reason = "unlimited"
	ReasonLimitNotEnforced     Reason = "limit_not_enforced_in_mvp"
)

// Entitlements is what a user may do right now.
// A nil MaxActiveListings means unlimited.
type Entitlements struct {
	HasActiveSubscription  bool   `json:"has_active_subscription"`
	PlanKey                string `json:"plan_key,omitempty"`
	MaxActiveListings      *int   `json:"max_active_listings"`
	FeaturedCreditsBalance int    `json:"featured_credits_balance"`
	BadgeLabel             string `json:"badge_label"`
	PrioritySupport        bool   `json:"priority_support"`
	CanAddMultipleStaff    bool   `json:"can_add_multiple_staff"`
}

// Service answers entitlement questions on top of the subscription ledger.
// Every read sweeps expired subscriptions first so a lapsed period is never
// reported as active.
type Service struct {
	subs *subscriptions.Service
}

func NewService(subs *subscriptions.Service) *Service {
	return &Service{subs: subs}
}

// ActiveSubscription returns the user's current subscription or nil.
func (s *Service) ActiveSubscription(ctx context.Context, userID uint) (*models.UserSubscription, error) {
	now := s.subs.Now()
	if _, err := s.subs.ExpireDue(ctx, now); err != nil {
		return nil, err
	}
	return s.subs.ActiveSubscriptionFor(ctx, userID, now, false)
}

func (s *Service) HasActiveSubscription(ctx context.Context, userID uint) (bool, error) {
	sub, err := s.ActiveSubscription(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub != nil, nil
}

// Get returns the user's entitlements. Users without a subscription get
// the zero value with no listing cap, matching how the catalog treats a
// missing limit.
func (s *Service) Get(ctx context.Context, userID uint) (Entitlements, error) {
	sub, err := s.ActiveSubscription(ctx, userID)
	if err != nil || sub == nil {
		return Entitlements{}, err
	}
	balance, err := s.subs.FeaturedCreditBalance(ctx, sub)
	if err != nil {
		return Entitlements{}, err
	}
	return Entitlements{
		HasActiveSubscription:  true,
		PlanKey:                sub.Plan.Key,
		MaxActiveListings:      sub.Plan.MaxActiveListings,
		FeaturedCreditsBalance: balance,
		BadgeLabel:             sub.Plan.BadgeLabel,
		PrioritySupport:        sub.Plan.PrioritySupport,
		CanAddMultipleStaff:    sub.Plan.CanAddMultipleStaff,
	}, nil
}

// CanPostListing tells whether the user may publish a listing. Listing caps
// are reported but not counted against live listings yet.
func (s *Service) CanPostListing(ctx context.Context, userID uint) (bool, Reason, error) {
	sub, err := s.ActiveSubscription(ctx, userID)
	if err != nil {
		return false, "", err
	}
	if sub == nil {
		return false, ReasonNoActiveSubscription, nil
	}
	if sub.Plan.HasUnlimitedListings() {
		return true, ReasonUnlimited, nil
	}
	return true, ReasonLimitNotEnforced, nil
}

// ConsumeFeaturedCredit spends one featured credit of the user's active
// subscription. It reports false when there is no subscription or no
// credit left.
func (s *Service) ConsumeFeaturedCredit(ctx context.Context, userID uint, listingID *string, reason string) (bool, error) {
	sub, err := s.ActiveSubscription(ctx, userID)
	if err != nil || sub == nil {
		return false, err
	}
	return s.subs.ConsumeCredit(ctx, sub, listingID, reason)
}
