package models_test

import (
	"testing"

	"bitbucket.org/wifizone/hotspot_backend/models"
	"bitbucket.org/wifizone/hotspot_backend/utils"
)

func gateUser(role models.UserRole, tenantId string) *models.User {
	u := &models.User{ID: 1, Username: "u", Role: role, IsActive: utils.NewTrue()}
	if tenantId != "" {
		u.TenantId = &tenantId
	}
	return u
}

func gateTenant(status models.SubscriptionStatus) *models.Tenant {
	return &models.Tenant{SubscriptionStatus: status}
}

func gateSettings(maintenance bool) *models.SaasSettings {
	return &models.SaasSettings{ID: 1, IsMaintenanceMode: &maintenance}
}

func TestResolveAccessState(t *testing.T) {
	tests := []struct {
		name     string
		user     *models.User
		tenant   *models.Tenant
		settings *models.SaasSettings
		want     models.AccessState
	}{
		{
			name: "no session",
			want: models.AccessStateUnauthenticated,
		},
		{
			name:     "pending tenant",
			user:     gateUser(models.UserRoleAdmin, "t1"),
			tenant:   gateTenant(models.SubscriptionStatusPending),
			settings: gateSettings(false),
			want:     models.AccessStatePendingApproval,
		},
		{
			name:     "no tenant linkage",
			user:     gateUser(models.UserRoleAdmin, ""),
			settings: gateSettings(false),
			want:     models.AccessStateNeedsTenantSetup,
		},
		{
			name:     "super admin bypasses maintenance",
			user:     gateUser(models.UserRoleSuperAdmin, ""),
			settings: gateSettings(true),
			want:     models.AccessStateActive,
		},
		{
			name:     "maintenance blocks non admin regardless of tenant state",
			user:     gateUser(models.UserRoleAgent, "t1"),
			tenant:   gateTenant(models.SubscriptionStatusActive),
			settings: gateSettings(true),
			want:     models.AccessStateMaintenanceBlocked,
		},
		{
			name:     "active tenant",
			user:     gateUser(models.UserRoleRevendeur, "t1"),
			tenant:   gateTenant(models.SubscriptionStatusActive),
			settings: gateSettings(false),
			want:     models.AccessStateActive,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := models.ResolveAccessState(tc.user, tc.tenant, tc.settings)
			if got != tc.want {
				t.Fatalf("ResolveAccessState = %s; want %s", got, tc.want)
			}
		})
	}
}

func TestResolveAccessStatePrecedence(t *testing.T) {
	// maintenance must win over every tenant-derived state
	user := gateUser(models.UserRoleAdmin, "t1")
	tenant := gateTenant(models.SubscriptionStatusPending)
	got := models.ResolveAccessState(user, tenant, gateSettings(true))
	if got != models.AccessStateMaintenanceBlocked {
		t.Fatalf("maintenance should shadow PENDING_APPROVAL; got %s", got)
	}
}

func TestReachableRoutesSuspendedTenant(t *testing.T) {
	routes := models.ReachableRoutes(models.AccessStateActive, models.UserRoleAdmin, true)
	if len(routes) != 1 || routes[0] != models.RouteRenewal {
		t.Fatalf("suspended admin should only reach renewal; got %v", routes)
	}

	// super admin is never narrowed
	routes = models.ReachableRoutes(models.AccessStateActive, models.UserRoleSuperAdmin, true)
	if len(routes) == 1 && routes[0] == models.RouteRenewal {
		t.Fatalf("super admin should not be narrowed to renewal")
	}
}

func TestReachableRoutesBlockedStates(t *testing.T) {
	cases := map[models.AccessState]string{
		models.AccessStateMaintenanceBlocked: models.RouteMaintenance,
		models.AccessStateNeedsTenantSetup:   models.RouteTenantSetup,
		models.AccessStatePendingApproval:    models.RoutePending,
	}
	for state, want := range cases {
		routes := models.ReachableRoutes(state, models.UserRoleAdmin, false)
		if len(routes) != 1 || routes[0] != want {
			t.Fatalf("state %s: expected single route %s; got %v", state, want, routes)
		}
	}
}

func TestDefaultRoute(t *testing.T) {
	if got := models.DefaultRoute(models.UserRoleSuperAdmin); got != models.RouteAdminTenant {
		t.Fatalf("super admin default route = %s", got)
	}
	if got := models.DefaultRoute(models.UserRoleRevendeur); got != models.RouteSell {
		t.Fatalf("reseller default route = %s", got)
	}
	if got := models.DefaultRoute(models.UserRoleClient); got != models.RouteTickets {
		t.Fatalf("client default route = %s", got)
	}
}
