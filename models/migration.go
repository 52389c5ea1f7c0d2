package models

import (
	"log"

	"github.com/commercekit/searchsync/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Category{}, &Product{},
		&EntityTransfer{},
		&SearchSettings{},
		&SearchSyncRun{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
