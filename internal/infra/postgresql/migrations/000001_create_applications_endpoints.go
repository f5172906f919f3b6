package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/hookline/internal/repository"
)

func createApplicationsAndEndpoints() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_applications_endpoints",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ApplicationModel{}, &repository.EndpointModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_applications_org_uid ON applications (org_id, uid) WHERE uid IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_endpoints_app_id ON endpoints (app_id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_endpoints_app_uid ON endpoints (app_id, uid) WHERE uid IS NOT NULL AND deleted = false`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EndpointModel{}, &repository.ApplicationModel{})
		},
	}
}
