package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/utils"
)

// Route names handed to clients. The web and mobile frontends map these to
// their own navigation.
const (
	RouteLogin       = "/login"
	RouteRegister    = "/register"
	RouteMaintenance = "/maintenance"
	RouteTenantSetup = "/setup"
	RoutePending     = "/pending"
	RouteRenewal     = "/renewal"
	RouteDashboard   = "/dashboard"
	RouteSell        = "/sell"
	RouteStock       = "/stock"
	RouteResellers   = "/resellers"
	RoutePayments    = "/payments"
	RouteSales       = "/sales"
	RouteTickets     = "/tickets"
	RouteAdminTenant = "/admin/tenants"
	RouteSettings    = "/admin/settings"
)

// ResolveAccessState computes the session's application state. Pure, no
// side effects; first matching rule wins.
func ResolveAccessState(user *User, tenant *Tenant, settings *SaasSettings) AccessState {
	if user == nil {
		return AccessStateUnauthenticated
	}
	if settings != nil && settings.MaintenanceOn() && user.Role != UserRoleSuperAdmin {
		return AccessStateMaintenanceBlocked
	}
	if user.Role == UserRoleSuperAdmin {
		return AccessStateActive
	}
	if user.TenantId == nil || *user.TenantId == "" || tenant == nil {
		return AccessStateNeedsTenantSetup
	}
	if tenant.SubscriptionStatus == SubscriptionStatusPending {
		return AccessStatePendingApproval
	}
	return AccessStateActive
}

// ReachableRoutes returns the routes a session in the given state may
// navigate to. A suspended or expired subscription narrows ACTIVE down to
// the renewal page.
func ReachableRoutes(state AccessState, role UserRole, tenantSuspended bool) []string {
	switch state {
	case AccessStateUnauthenticated:
		return []string{RouteLogin, RouteRegister}
	case AccessStateMaintenanceBlocked:
		return []string{RouteMaintenance}
	case AccessStateNeedsTenantSetup:
		return []string{RouteTenantSetup}
	case AccessStatePendingApproval:
		return []string{RoutePending}
	case AccessStateActive:
		if tenantSuspended && role != UserRoleSuperAdmin {
			return []string{RouteRenewal}
		}
		return activeRoutes(role)
	}
	// unknown state, fail closed
	return []string{RouteLogin}
}

func activeRoutes(role UserRole) []string {
	switch role {
	case UserRoleSuperAdmin:
		return []string{RouteAdminTenant, RouteSettings, RouteDashboard}
	case UserRoleAdmin, UserRoleGestionnaire:
		return []string{RouteDashboard, RouteSell, RouteStock, RouteResellers, RoutePayments, RouteSales, RouteTickets}
	case UserRoleAgent:
		return []string{RouteDashboard, RouteSell, RouteSales}
	case UserRoleRevendeur:
		return []string{RouteDashboard, RouteSell, RouteStock, RoutePayments, RouteSales}
	case UserRoleClient:
		return []string{RouteTickets}
	}
	return []string{RouteLogin}
}

// DefaultRoute is where a session lands after the gate opens.
func DefaultRoute(role UserRole) string {
	switch role {
	case UserRoleSuperAdmin:
		return RouteAdminTenant
	case UserRoleAdmin, UserRoleGestionnaire:
		return RouteDashboard
	case UserRoleAgent, UserRoleRevendeur:
		return RouteSell
	case UserRoleClient:
		return RouteTickets
	}
	return RouteLogin
}

// SessionAccess is the gate's answer for one session.
type SessionAccess struct {
	State           AccessState `json:"state"`
	Routes          []string    `json:"routes"`
	DefaultRoute    string      `json:"default_route"`
	TenantSuspended bool        `json:"tenant_suspended"`
}

// ResolveUserAccess evaluates the gate for an already-loaded user, fetching
// the tenant and platform settings. Fails closed: any backend error yields
// UNAUTHENTICATED alongside the error so the caller can surface it without
// ever granting access.
func ResolveUserAccess(ctx context.Context, user *User) (*SessionAccess, error) {

	closed := &SessionAccess{
		State:        AccessStateUnauthenticated,
		Routes:       ReachableRoutes(AccessStateUnauthenticated, "", false),
		DefaultRoute: RouteLogin,
	}
	if user == nil {
		return closed, nil
	}

	settings, err := GetSaasSettings(ctx)
	if err != nil {
		return closed, err
	}

	var tenant *Tenant
	if user.TenantId != nil && *user.TenantId != "" {
		tenant, err = GetTenantById(ctx, *user.TenantId)
		if err != nil {
			return closed, err
		}
	}

	state := ResolveAccessState(user, tenant, settings)
	suspended := tenant != nil &&
		(tenant.SubscriptionStatus == SubscriptionStatusSuspended ||
			tenant.SubscriptionExpired(time.Now().UTC()))

	access := &SessionAccess{
		State:           state,
		Routes:          ReachableRoutes(state, user.Role, suspended),
		TenantSuspended: suspended,
	}
	if state == AccessStateActive && !(suspended && user.Role != UserRoleSuperAdmin) {
		access.DefaultRoute = DefaultRoute(user.Role)
	} else {
		access.DefaultRoute = access.Routes[0]
	}
	return access, nil
}

// ResolveSessionAccess evaluates the gate for the current request context.
// No session in context is a normal UNAUTHENTICATED answer, not an error.
func ResolveSessionAccess(ctx context.Context) (*SessionAccess, error) {

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return ResolveUserAccess(ctx, nil)
	}

	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).First(&user, userId).Error; err != nil {
		// fail closed
		access, _ := ResolveUserAccess(ctx, nil)
		return access, err
	}
	return ResolveUserAccess(ctx, &user)
}

// GateUpdate is one realtime subscription change seen by a waiting session.
type GateUpdate struct {
	Event SubscriptionEvent `json:"event"`
	// ForcedRedirect is set when the change unblocks the session, e.g. a
	// PENDING tenant getting approved while the user sits on the status page.
	ForcedRedirect string `json:"forced_redirect,omitempty"`
}

// WatchTenantSubscription streams subscription changes for a tenant over
// Redis pub/sub. The returned stop func closes the subscription and the
// channel. Sessions parked on the pending/renewal routes use this instead
// of polling.
func WatchTenantSubscription(ctx context.Context, tenantId string, role UserRole) (<-chan GateUpdate, func(), error) {

	sub := config.SubscribeRedis(ctx, SubscriptionChannel(tenantId))
	if sub == nil {
		return nil, nil, utils.ErrBackendUnavailable
	}

	updates := make(chan GateUpdate)
	done := make(chan struct{})

	go func() {
		defer close(updates)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event SubscriptionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				update := GateUpdate{Event: event}
				if event.OldStatus == SubscriptionStatusPending && event.NewStatus == SubscriptionStatusActive {
					update.ForcedRedirect = DefaultRoute(role)
				}
				select {
				case updates <- update:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	stop := func() {
		close(done)
		_ = sub.Close()
	}
	return updates, stop, nil
}
