package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/hookline/internal/repository"
)

func createMessageDestinationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_message_destinations",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DestinationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_destinations_msg_endpoint ON message_destinations (msg_id, endpoint_id)`,
				`CREATE INDEX IF NOT EXISTS idx_destinations_endpoint_status ON message_destinations (endpoint_id, status, created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DestinationModel{})
		},
	}
}
