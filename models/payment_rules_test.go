package models_test

import (
	"testing"

	"bitbucket.org/wifizone/hotspot_backend/models"
	"bitbucket.org/wifizone/hotspot_backend/utils"
)

func TestCreditMomoImmediately(t *testing.T) {
	// default: flag unset credits at submission
	s := &models.SaasSettings{}
	if !s.CreditMomoImmediately() {
		t.Fatalf("unset flag should credit at submission")
	}
	s.CreditMomoOnApproval = utils.NewFalse()
	if !s.CreditMomoImmediately() {
		t.Fatalf("explicit false should credit at submission")
	}
	s.CreditMomoOnApproval = utils.NewTrue()
	if s.CreditMomoImmediately() {
		t.Fatalf("credit-on-approval policy should defer the credit")
	}
}

func TestMaintenanceOn(t *testing.T) {
	s := &models.SaasSettings{}
	if s.MaintenanceOn() {
		t.Fatalf("unset maintenance flag should read as off")
	}
	s.IsMaintenanceMode = utils.NewTrue()
	if !s.MaintenanceOn() {
		t.Fatalf("maintenance flag set should read as on")
	}
}
