package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/hookline/internal/repository"
)

func createMessagesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_messages",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MessageModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_app_uid ON messages (app_id, uid) WHERE uid IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_messages_app_created ON messages (app_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_messages_expiration ON messages (expiration) WHERE payload IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MessageModel{})
		},
	}
}
