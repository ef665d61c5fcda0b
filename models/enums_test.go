package models_test

import (
	"testing"

	"bitbucket.org/wifizone/hotspot_backend/models"
)

func TestParseUserRole(t *testing.T) {
	for _, s := range []string{"SUPER_ADMIN", "ADMIN", "GESTIONNAIRE", "AGENT", "REVENDEUR", "CLIENT"} {
		if _, err := models.ParseUserRole(s); err != nil {
			t.Fatalf("ParseUserRole(%q): %v", s, err)
		}
	}
	if _, err := models.ParseUserRole("MANAGER"); err == nil {
		t.Fatalf("ParseUserRole should reject unknown role")
	}
	if _, err := models.ParseUserRole("admin"); err == nil {
		t.Fatalf("ParseUserRole should be case sensitive")
	}
}

func TestRoleCapabilities(t *testing.T) {
	if !models.UserRoleAgent.IsAgencyStaff() {
		t.Fatalf("agent should be agency staff")
	}
	if models.UserRoleRevendeur.IsAgencyStaff() {
		t.Fatalf("reseller is not agency staff")
	}
	if !models.UserRoleGestionnaire.CanCancelAnySale() {
		t.Fatalf("gestionnaire should cancel any sale")
	}
	if models.UserRoleAgent.CanCancelAnySale() {
		t.Fatalf("agent cannot cancel other sales")
	}
	if !models.UserRoleAdmin.CanManageResellers() {
		t.Fatalf("admin should manage resellers")
	}
	if models.UserRoleRevendeur.CanManageResellers() {
		t.Fatalf("reseller cannot manage resellers")
	}
}

func TestParseTicketStatus(t *testing.T) {
	for _, s := range []string{"NEUF", "ASSIGNE", "VENDU", "EXPIRE"} {
		if _, err := models.ParseTicketStatus(s); err != nil {
			t.Fatalf("ParseTicketStatus(%q): %v", s, err)
		}
	}
	if _, err := models.ParseTicketStatus("SOLD"); err == nil {
		t.Fatalf("ParseTicketStatus should reject unknown status")
	}
}

func TestPaymentMethodIsMobileMoney(t *testing.T) {
	if !models.PaymentMethodOrangeMoney.IsMobileMoney() {
		t.Fatalf("orange money is mobile money")
	}
	if !models.PaymentMethodMtnMomo.IsMobileMoney() {
		t.Fatalf("mtn momo is mobile money")
	}
	if models.PaymentMethodCash.IsMobileMoney() {
		t.Fatalf("cash is not mobile money")
	}
	if models.PaymentMethodBankTransfer.IsMobileMoney() {
		t.Fatalf("bank transfer is not mobile money")
	}
}
