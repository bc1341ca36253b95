// Package testdb opens throwaway SQLite databases with the full schema and
// seeds the catalog fixtures shared by package tests.
package testdb

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/marketsub/app/models"
	"github.com/ManuelReschke/marketsub/internal/pkg/database"
)

const (
	SKUBusinessBasic = "SUB-BUSINESS-BASIC-30"
	SKUDealerPlus    = "SUB-DEALER-PLUS-30"
	SKUFreeListing   = "SUB-FREE-LISTING-30"
)

// New returns a migrated database living in the test's temp dir. A single
// connection keeps SQLite writers from tripping over each other. SQLite
// has no SELECT ... FOR UPDATE, so row-lock serialisation is only
// exercised against postgres or mysql.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(database.SQLiteDSN(path)), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// Catalog holds the seeded plans and products.
type Catalog struct {
	BusinessBasic        models.SubscriptionPlan
	DealerPlus           models.SubscriptionPlan
	FreeListing          models.SubscriptionPlan
	BusinessBasicProduct models.SubscriptionProduct
	DealerPlusProduct    models.SubscriptionProduct
	FreeListingProduct   models.SubscriptionProduct
}

// SeedCatalog creates three plans: Business Basic (3 credits, unlimited
// listings), Dealer Plus (2 credits, Dealer badge, priority support,
// 100 listings) and Free Listing (no credits, 5 listings), each sold by a
// 30 day product.
func SeedCatalog(t testing.TB, db *gorm.DB) Catalog {
	t.Helper()

	cap100 := 100
	cap5 := 5
	c := Catalog{
		BusinessBasic: models.SubscriptionPlan{
			Key:                      "business-basic",
			Name:                     "Business Basic",
			Price:                    decimal.RequireFromString("19.00"),
			BillingPeriod:            models.BillingPeriodMonthly,
			IsActive:                 true,
			FeaturedCreditsPerPeriod: 3,
		},
		DealerPlus: models.SubscriptionPlan{
			Key:                      "dealer-plus",
			Name:                     "Dealer Plus",
			Price:                    decimal.RequireFromString("49.00"),
			BillingPeriod:            models.BillingPeriodMonthly,
			IsActive:                 true,
			MaxActiveListings:        &cap100,
			FeaturedCreditsPerPeriod: 2,
			BadgeLabel:               "Dealer",
			PrioritySupport:          true,
			CanAddMultipleStaff:      true,
		},
		FreeListing: models.SubscriptionPlan{
			Key:               "free-listing",
			Name:              "Free Listing",
			Price:             decimal.Zero,
			BillingPeriod:     models.BillingPeriodMonthly,
			IsActive:          true,
			MaxActiveListings: &cap5,
		},
	}
	require.NoError(t, db.Create(&c.BusinessBasic).Error)
	require.NoError(t, db.Create(&c.DealerPlus).Error)
	require.NoError(t, db.Create(&c.FreeListing).Error)

	c.BusinessBasicProduct = seedProduct(t, db, SKUBusinessBasic, c.BusinessBasic)
	c.DealerPlusProduct = seedProduct(t, db, SKUDealerPlus, c.DealerPlus)
	c.FreeListingProduct = seedProduct(t, db, SKUFreeListing, c.FreeListing)
	return c
}

func seedProduct(t testing.TB, db *gorm.DB, sku string, plan models.SubscriptionPlan) models.SubscriptionProduct {
	t.Helper()
	p := models.SubscriptionProduct{SKU: sku, PlanID: plan.ID, PeriodDays: 30, IsActive: true}
	require.NoError(t, db.Omit("Plan").Create(&p).Error)
	p.Plan = plan
	return p
}

// SeedUser inserts a marketplace user with the given id.
func SeedUser(t testing.TB, db *gorm.DB, id uint) models.User {
	t.Helper()
	u := models.User{
		ID:     id,
		Name:   fmt.Sprintf("seller-%d", id),
		Email:  fmt.Sprintf("seller%d@example.com", id),
		Status: models.STATUS_ACTIVE,
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}
