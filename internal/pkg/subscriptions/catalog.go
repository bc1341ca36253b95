package subscriptions

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/marketsub/app/models"
)

// CreatePlan validates and stores a plan.
func (s *Service) CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		return fmt.Errorf("create plan %s: %w", plan.Key, err)
	}
	return nil
}

// CreateProduct validates and stores a product for an existing plan.
func (s *Service) CreateProduct(ctx context.Context, product *models.SubscriptionProduct) error {
	if err := product.Validate(); err != nil {
		return err
	}
	plan, err := s.repo.FindPlan(ctx, product.PlanID)
	if err != nil {
		return fmt.Errorf("load plan %s: %w", product.PlanID, err)
	}
	if plan == nil {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, product.PlanID)
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return fmt.Errorf("create product %s: %w", product.SKU, err)
	}
	product.Plan = *plan
	return nil
}

func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error) {
	return s.repo.ListPlans(ctx, activeOnly)
}

func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]models.SubscriptionProduct, error) {
	return s.repo.ListProducts(ctx, activeOnly)
}

// FindUser returns the marketplace user or nil.
func (s *Service) FindUser(ctx context.Context, id uint) (*models.User, error) {
	if id == 0 {
		return nil, nil
	}
	return s.repo.FindUser(ctx, id)
}

// UpsertUser registers or refreshes a marketplace user mirrored from the
// identity service.
func (s *Service) UpsertUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	return s.repo.UpsertUser(ctx, user)
}
