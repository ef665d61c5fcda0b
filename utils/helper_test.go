package utils_test

import (
	"testing"

	"bitbucket.org/wifizone/hotspot_backend/utils"
)

func TestIsValidMobileMoneyPhone(t *testing.T) {
	valid := []string{"622334455", "690000000", "655123456"}
	for _, phone := range valid {
		if !utils.IsValidMobileMoneyPhone(phone) {
			t.Fatalf("expected %q to be a valid mobile money phone", phone)
		}
	}

	invalid := []string{
		"123456789", // does not start with 6
		"62233445",  // too short
		"6223344556",
		"6223x4455",
		"",
		"+237622334455", // national format only
	}
	for _, phone := range invalid {
		if utils.IsValidMobileMoneyPhone(phone) {
			t.Fatalf("expected %q to be rejected", phone)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	if !utils.IsValidEmail("owner@agency.cm") {
		t.Fatalf("expected valid email")
	}
	if utils.IsValidEmail("not-an-email") {
		t.Fatalf("expected invalid email")
	}
}
