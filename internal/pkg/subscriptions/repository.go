package subscriptions

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/marketsub/app/models"
)

// SubscriptionFilter narrows admin listings. Zero values mean no filter.
type SubscriptionFilter struct {
	Status string
	UserID uint
	Limit  int
	Offset int
}

// Repository provides DB operations used by the subscription service.
// Implementations bound to a transaction come from WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	FindUser(ctx context.Context, id uint) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error

	CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error
	FindPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error)
	CreateProduct(ctx context.Context, product *models.SubscriptionProduct) error
	ListProducts(ctx context.Context, activeOnly bool) ([]models.SubscriptionProduct, error)
	FindActiveProductBySKU(ctx context.Context, sku string) (*models.SubscriptionProduct, error)

	FindActiveSubscription(ctx context.Context, userID uint, asOf time.Time, lock bool) (*models.UserSubscription, error)
	FindSubscription(ctx context.Context, id string, status string, lock bool) (*models.UserSubscription, error)
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]models.UserSubscription, error)
	ListSubscriptionsByIDs(ctx context.Context, ids []string) ([]models.UserSubscription, error)
	ListActivePeriodStarts(ctx context.Context, from, to time.Time) ([]models.UserSubscription, error)
	CreateSubscription(ctx context.Context, sub *models.UserSubscription) error
	SaveSubscriptionPeriod(ctx context.Context, sub *models.UserSubscription) error
	SaveSubscriptionStatus(ctx context.Context, sub *models.UserSubscription) error
	ExpireDue(ctx context.Context, asOf time.Time) (int64, error)
	ExpireByIDs(ctx context.Context, ids []string) (int64, error)

	OrderProcessed(ctx context.Context, orderReference string) (bool, error)
	CreateProcessedOrder(ctx context.Context, order *models.ProcessedSubscriptionOrder) error
	ListProcessedOrders(ctx context.Context, limit int) ([]models.ProcessedSubscriptionOrder, error)

	AppendCredit(ctx context.Context, entry *models.SubscriptionCreditLedger) error
	SumCredits(ctx context.Context, subscriptionID, creditType string) (int, error)
	HasCreditReference(ctx context.Context, subscriptionID, reason, reference string) (bool, error)
	ListCredits(ctx context.Context, subscriptionID string) ([]models.SubscriptionCreditLedger, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// forUpdate adds SELECT ... FOR UPDATE. SQLite has no row locks and
// serialises writers on its own, so the clause is skipped there.
func (r *gormRepository) forUpdate(db *gorm.DB, lock bool) *gorm.DB {
	if !lock || r.db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func firstOrNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *gormRepository) FindUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	return firstOrNil(&user, err)
}

func (r *gormRepository) UpsertUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "status", "updated_at"}),
	}).Create(user).Error
}

// CreatePlan stores plan. gorm skips zero values that carry a column
// default, so an inactive plan is flipped off after the insert.
func (r *gormRepository) CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	db := r.db.WithContext(ctx)
	if err := db.Create(plan).Error; err != nil {
		return err
	}
	if !plan.IsActive {
		return db.Model(plan).Update("is_active", false).Error
	}
	return nil
}

func (r *gormRepository) FindPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error
	return firstOrNil(&plan, err)
}

func (r *gormRepository) ListPlans(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	q := r.db.WithContext(ctx).Order("name ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&plans).Error
	return plans, err
}

func (r *gormRepository) CreateProduct(ctx context.Context, product *models.SubscriptionProduct) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(product).Error; err != nil {
		return err
	}
	if !product.IsActive {
		return db.Model(product).Omit(clause.Associations).Update("is_active", false).Error
	}
	return nil
}

func (r *gormRepository) ListProducts(ctx context.Context, activeOnly bool) ([]models.SubscriptionProduct, error) {
	var products []models.SubscriptionProduct
	q := r.db.WithContext(ctx).Preload("Plan").Order("sku ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&products).Error
	return products, err
}

func (r *gormRepository) FindActiveProductBySKU(ctx context.Context, sku string) (*models.SubscriptionProduct, error) {
	var product models.SubscriptionProduct
	err := r.db.WithContext(ctx).Preload("Plan").
		Where("sku = ? AND is_active = ?", sku, true).
		First(&product).Error
	return firstOrNil(&product, err)
}

func (r *gormRepository) FindActiveSubscription(ctx context.Context, userID uint, asOf time.Time, lock bool) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.forUpdate(r.db.WithContext(ctx), lock).Preload("Plan").
		Where("user_id = ? AND status = ? AND current_period_end > ?", userID, models.SubscriptionStatusActive, asOf).
		Order("current_period_end DESC").
		Order("created_at DESC").
		First(&sub).Error
	return firstOrNil(&sub, err)
}

func (r *gormRepository) FindSubscription(ctx context.Context, id string, status string, lock bool) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	q := r.forUpdate(r.db.WithContext(ctx), lock).Preload("Plan").Where("id = ?", id)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.First(&sub).Error
	return firstOrNil(&sub, err)
}

func (r *gormRepository) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]models.UserSubscription, error) {
	var subs []models.UserSubscription
	q := r.db.WithContext(ctx).Preload("Plan").Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	err := q.Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListSubscriptionsByIDs(ctx context.Context, ids []string) ([]models.UserSubscription, error) {
	var subs []models.UserSubscription
	if len(ids) == 0 {
		return subs, nil
	}
	err := r.db.WithContext(ctx).Preload("Plan").Where("id IN ?", ids).Order("created_at ASC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListActivePeriodStarts(ctx context.Context, from, to time.Time) ([]models.UserSubscription, error) {
	var subs []models.UserSubscription
	err := r.db.WithContext(ctx).Preload("Plan").
		Where("status = ? AND current_period_start >= ? AND current_period_start < ?", models.SubscriptionStatusActive, from, to).
		Order("current_period_start ASC").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateSubscription(ctx context.Context, sub *models.UserSubscription) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(sub).Error
}

func (r *gormRepository) SaveSubscriptionPeriod(ctx context.Context, sub *models.UserSubscription) error {
	return r.db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]interface{}{
			"current_period_start":      sub.CurrentPeriodStart,
			"current_period_end":        sub.CurrentPeriodEnd,
			"last_paid_order_reference": sub.LastPaidOrderReference,
		}).Error
}

func (r *gormRepository) SaveSubscriptionStatus(ctx context.Context, sub *models.UserSubscription) error {
	return r.db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]interface{}{
			"status":         sub.Status,
			"active_user_id": sub.ActiveUserID,
			"cancelled_at":   sub.CancelledAt,
		}).Error
}

func (r *gormRepository) ExpireDue(ctx context.Context, asOf time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("status = ? AND current_period_end <= ?", models.SubscriptionStatusActive, asOf).
		Updates(map[string]interface{}{
			"status":         models.SubscriptionStatusExpired,
			"active_user_id": nil,
		})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) ExpireByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("id IN ? AND status = ?", ids, models.SubscriptionStatusActive).
		Updates(map[string]interface{}{
			"status":         models.SubscriptionStatusExpired,
			"active_user_id": nil,
		})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) OrderProcessed(ctx context.Context, orderReference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedSubscriptionOrder{}).
		Where("order_reference = ?", orderReference).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreateProcessedOrder(ctx context.Context, order *models.ProcessedSubscriptionOrder) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error
}

func (r *gormRepository) ListProcessedOrders(ctx context.Context, limit int) ([]models.ProcessedSubscriptionOrder, error) {
	var orders []models.ProcessedSubscriptionOrder
	q := r.db.WithContext(ctx).Order("processed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&orders).Error
	return orders, err
}

func (r *gormRepository) AppendCredit(ctx context.Context, entry *models.SubscriptionCreditLedger) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(entry).Error
}

func (r *gormRepository) SumCredits(ctx context.Context, subscriptionID, creditType string) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.SubscriptionCreditLedger{}).
		Select("COALESCE(SUM(credit_change), 0)").
		Where("subscription_id = ? AND credit_type = ?", subscriptionID, creditType).
		Scan(&total).Error
	return int(total), err
}

func (r *gormRepository) HasCreditReference(ctx context.Context, subscriptionID, reason, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SubscriptionCreditLedger{}).
		Where("subscription_id = ? AND reason = ? AND related_order_reference = ?", subscriptionID, reason, reference).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) ListCredits(ctx context.Context, subscriptionID string) ([]models.SubscriptionCreditLedger, error) {
	var entries []models.SubscriptionCreditLedger
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
