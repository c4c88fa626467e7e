package infra

import (
	"fmt"

	"qrtrace/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase establishes a GORM connection backed by pgx and brings the schema
// up to date (AutoMigrate + idempotent SQL patches).
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations creates / updates every table owned by the engine, then applies
// the DDL GORM cannot express. Safe to run on every boot.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Organization{},
		&model.ProductVariant{},
		&model.Order{},
		&model.OrderItem{},
		&model.Batch{},
		&model.MasterCode{},
		&model.UnitCode{},
		&model.ReverseJob{},
		&model.ReverseJobItem{},
		&model.ReverseJobLog{},
		&model.ValidationSession{},
		&model.Movement{},
		&model.StockPostingDedup{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	return applySchemaPatches(db)
}

// applySchemaPatches runs idempotent DDL statements: partial indexes for the
// worker queries and guards AutoMigrate has no tag for. Each statement uses
// IF NOT EXISTS semantics so re-running on an already-patched DB is a no-op.
func applySchemaPatches(db *gorm.DB) error {
	patches := []struct{ descr, sql string }{
		// Job engine claim scan: oldest pending first.
		{"idx_reverse_jobs_pending", `
CREATE INDEX IF NOT EXISTS idx_reverse_jobs_pending
    ON qr_reverse_jobs (created_at)
    WHERE status = 'pending'`},
		// Intake FIFO scan.
		{"idx_batches_receiving_queue", `
CREATE INDEX IF NOT EXISTS idx_batches_receiving_queue
    ON qr_batches (receiving_queued_at)
    WHERE receiving_status IN ('queued', 'processing')`},
		// Buffer pool lookups, lowest sequence first.
		{"idx_codes_buffer_pool", `
CREATE INDEX IF NOT EXISTS idx_codes_buffer_pool
    ON qr_codes (batch_id, variant_id, sequence_number)
    WHERE is_buffer = true AND status = 'buffer_available'`},
		// Session-less warehouse_packed codes for bulk unlink.
		{"idx_codes_sessionless_packed", `
CREATE INDEX IF NOT EXISTS idx_codes_sessionless_packed
    ON qr_codes (current_org_id, variant_id)
    WHERE status = 'warehouse_packed' AND validation_session_id IS NULL`},
		// A spoiled code is never linked to a case.
		{"chk_codes_spoiled_unlinked", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_codes_spoiled_unlinked') THEN
    ALTER TABLE qr_codes
      ADD CONSTRAINT chk_codes_spoiled_unlinked
      CHECK (status <> 'spoiled' OR master_code_id IS NULL);
  END IF;
END $$`},
		// replaces_sequence_no only on buffer codes.
		{"chk_codes_replaces_buffer_only", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_codes_replaces_buffer_only') THEN
    ALTER TABLE qr_codes
      ADD CONSTRAINT chk_codes_replaces_buffer_only
      CHECK (replaces_sequence_no IS NULL OR is_buffer = true);
  END IF;
END $$`},
	}
	for _, p := range patches {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", p.descr, err)
		}
	}
	return nil
}
