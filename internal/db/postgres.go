package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/types"
	"github.com/reelkit/reelkit-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "reelkit", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Brief{},
		&types.GenerationBatch{},
		&types.VideoItem{},
		&types.CostLedgerEntry{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	s.log.Info("Configuring foreign key relationships for postgres tables...")
	// A brief cannot be deleted while a batch references it.
	if err := s.db.Exec(`
		ALTER TABLE "generation_batch"
		ADD CONSTRAINT "fk_generation_batch_brief_id"
		FOREIGN KEY ("brief_id")
		REFERENCES "brief"("id")
		ON DELETE RESTRICT
	`).Error; err != nil && !isDuplicateConstraint(err) {
		return fmt.Errorf("failed to add fk_generation_batch_brief_id: %w", err)
	}
	if err := s.db.Exec(`
		ALTER TABLE "video_item"
		ADD CONSTRAINT "fk_video_item_batch_id"
		FOREIGN KEY ("batch_id")
		REFERENCES "generation_batch"("id")
		ON DELETE CASCADE
	`).Error; err != nil && !isDuplicateConstraint(err) {
		return fmt.Errorf("failed to add fk_video_item_batch_id: %w", err)
	}
	// Ledger rows outlive their item: the item reference is nulled on delete so
	// the financial audit trail is preserved.
	if err := s.db.Exec(`
		ALTER TABLE "cost_ledger_entry"
		ADD CONSTRAINT "fk_cost_ledger_entry_video_item_id"
		FOREIGN KEY ("video_item_id")
		REFERENCES "video_item"("id")
		ON DELETE SET NULL
	`).Error; err != nil && !isDuplicateConstraint(err) {
		return fmt.Errorf("failed to add fk_cost_ledger_entry_video_item_id: %w", err)
	}
	return nil
}

func isDuplicateConstraint(err error) bool {
	if err == nil {
		return false
	}
	// 42710: duplicate_object, raised when the constraint already exists.
	return strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "42710")
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
