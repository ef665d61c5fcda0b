package models

import "errors"

// UserRole is the closed set of roles. Gate and ledger logic switch
// exhaustively over these values; adding a role is a compile-visible change.
type UserRole string

const (
	UserRoleSuperAdmin   UserRole = "SUPER_ADMIN"
	UserRoleAdmin        UserRole = "ADMIN"
	UserRoleGestionnaire UserRole = "GESTIONNAIRE"
	UserRoleAgent        UserRole = "AGENT"
	UserRoleRevendeur    UserRole = "REVENDEUR"
	UserRoleClient       UserRole = "CLIENT"
)

func ParseUserRole(s string) (UserRole, error) {
	switch UserRole(s) {
	case UserRoleSuperAdmin, UserRoleAdmin, UserRoleGestionnaire,
		UserRoleAgent, UserRoleRevendeur, UserRoleClient:
		return UserRole(s), nil
	default:
		return "", errors.New("invalid user role")
	}
}

// IsAgencyStaff reports whether the role sells from the agency's own NEUF pool.
func (r UserRole) IsAgencyStaff() bool {
	switch r {
	case UserRoleAdmin, UserRoleGestionnaire, UserRoleAgent:
		return true
	case UserRoleSuperAdmin, UserRoleRevendeur, UserRoleClient:
		return false
	}
	return false
}

// CanCancelAnySale reports whether the role may cancel sales it did not make.
func (r UserRole) CanCancelAnySale() bool {
	switch r {
	case UserRoleSuperAdmin, UserRoleAdmin, UserRoleGestionnaire:
		return true
	case UserRoleAgent, UserRoleRevendeur, UserRoleClient:
		return false
	}
	return false
}

// CanManageResellers reports whether the role may assign stock and record recharges.
func (r UserRole) CanManageResellers() bool {
	switch r {
	case UserRoleSuperAdmin, UserRoleAdmin, UserRoleGestionnaire:
		return true
	case UserRoleAgent, UserRoleRevendeur, UserRoleClient:
		return false
	}
	return false
}

// TicketStatus is the voucher state machine:
// NEUF -> ASSIGNE -> VENDU (cancel reverses), EXPIRE is terminal.
type TicketStatus string

const (
	TicketStatusNeuf    TicketStatus = "NEUF"
	TicketStatusAssigne TicketStatus = "ASSIGNE"
	TicketStatusVendu   TicketStatus = "VENDU"
	TicketStatusExpire  TicketStatus = "EXPIRE"
)

func ParseTicketStatus(s string) (TicketStatus, error) {
	switch TicketStatus(s) {
	case TicketStatusNeuf, TicketStatusAssigne, TicketStatusVendu, TicketStatusExpire:
		return TicketStatus(s), nil
	default:
		return "", errors.New("invalid ticket status")
	}
}

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusSuspended SubscriptionStatus = "SUSPENDED"
)

func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(s) {
	case SubscriptionStatusPending, SubscriptionStatusActive, SubscriptionStatusSuspended:
		return SubscriptionStatus(s), nil
	default:
		return "", errors.New("invalid subscription status")
	}
}

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodOrangeMoney  PaymentMethod = "ORANGE_MONEY"
	PaymentMethodMtnMomo      PaymentMethod = "MTN_MOMO"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case PaymentMethodCash, PaymentMethodOrangeMoney, PaymentMethodMtnMomo, PaymentMethodBankTransfer:
		return PaymentMethod(s), nil
	default:
		return "", errors.New("invalid payment method")
	}
}

// IsMobileMoney reports whether the method needs a valid payout phone and an
// external carrier confirmation.
func (m PaymentMethod) IsMobileMoney() bool {
	return m == PaymentMethodOrangeMoney || m == PaymentMethodMtnMomo
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusApproved PaymentStatus = "APPROVED"
	PaymentStatusRejected PaymentStatus = "REJECTED"
)

// AccessState is the session-level application state computed by the access
// gate; see ResolveAccessState for the precedence order.
type AccessState string

const (
	AccessStateUnauthenticated    AccessState = "UNAUTHENTICATED"
	AccessStateNeedsTenantSetup   AccessState = "NEEDS_TENANT_SETUP"
	AccessStatePendingApproval    AccessState = "PENDING_APPROVAL"
	AccessStateActive             AccessState = "ACTIVE"
	AccessStateMaintenanceBlocked AccessState = "MAINTENANCE_BLOCKED"
)
