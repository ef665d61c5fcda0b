package models

import (
	"log"

	"bitbucket.org/wifizone/hotspot_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Tenant{}, &User{}, &Zone{},
		&TicketProfile{}, &Ticket{},
		&SaleRecord{}, &Payment{},
		&SaasSettings{},
		&SubscriptionEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
