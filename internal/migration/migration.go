package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/nordbooks/varekost/internal/audit/domain"
	invoicedomain "github.com/nordbooks/varekost/internal/invoices/domain"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded SQL migrations. Postgres only; other
// dialects go through AutoMigrate.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema through gorm for dialects without embedded
// migrations. The partial unique index guarding the single-open-active-record
// invariant only exists on postgres; sqlite and mysql rely on the ledger's
// transactional post-check alone.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&pricedomain.PriceRecord{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&auditdomain.AuditLog{},
	)
}
