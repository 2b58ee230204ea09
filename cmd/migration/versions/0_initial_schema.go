package versions

import (
	"rnaseqdb/schema"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func initialSchema() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "0_initial_schema",
		Migrate: func(txn *gorm.DB) error {
			return txn.AutoMigrate(schema.All()...)
		},
		Rollback: func(txn *gorm.DB) error {
			for _, model := range schema.All() {
				if err := txn.Migrator().DropTable(model); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func All() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		initialSchema(),
	}
}
