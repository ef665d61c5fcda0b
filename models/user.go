package models

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type User struct {
	ID        int             `gorm:"primary_key" json:"id"`
	TenantId  *string         `gorm:"index;size:36" json:"tenant_id"`
	Username  string          `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     *string         `gorm:"size:100;unique" json:"email"`
	Phone     string          `gorm:"size:20" json:"phone"`
	Password  string          `gorm:"size:255;not null" json:"password"`
	Role      UserRole        `gorm:"type:enum('SUPER_ADMIN','ADMIN','GESTIONNAIRE','AGENT','REVENDEUR','CLIENT');default:CLIENT" json:"role"`
	ZoneId    *int            `gorm:"index" json:"zone_id"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"balance"`
	IsActive  *bool           `gorm:"not null" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	TenantId string   `json:"tenant_id"`
	Username string   `json:"username" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Email    string   `json:"email"`
	Phone    string   `json:"phone"`
	Password string   `json:"password" binding:"required"`
	Role     UserRole `json:"role" binding:"required"`
	ZoneId   *int     `json:"zone_id"`
	IsActive *bool    `json:"is_active" binding:"required"`
}

/*
caches:
	User:$username
*/

func (user User) RemoveInstanceRedis() error {
	if err := config.RemoveRedisKey("User:" + user.Username); err != nil {
		return err
	}
	return nil
}

func (result *User) PrepareGive() {
	result.Password = ""
}

// IsReseller reports whether the balance field is meaningful for this user.
func (user *User) IsReseller() bool {
	return user.Role == UserRoleRevendeur
}

type LoginInfo struct {
	Token              string             `json:"token"`
	Jwt                string             `json:"jwt"`
	Name               string             `json:"name"`
	Role               UserRole           `json:"role"`
	TenantId           string             `json:"tenant_id"`
	TenantName         string             `json:"tenant_name"`
	CurrencyCode       string             `json:"currency_code"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	AccessState        AccessState        `json:"access_state"`
	Balance            decimal.Decimal    `json:"balance"`
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	err := config.RemoveRedisKey("Token:" + fmt.Sprint(token))
	if err != nil {
		return false, nil
	}
	// remove current token from tokens list
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return false, errors.New("user not found")
	}
	if err := config.RemoveRedisSetMember("Tokens:"+username, token); err != nil {
		return false, err
	}
	return true, nil
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {

	db := config.GetDB()
	var err error
	var result LoginInfo

	user := User{}

	// get User info
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return &result, err
	}
	if !exists {
		err = db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Take(&user).Error

		if err != nil {
			return &result, errors.New("invalid username or password")
		}
	}

	// check login credentials; any compare failure refuses the login,
	// including an unreadable stored hash
	err = utils.ComparePassword(user.Password, password)

	if err != nil {
		return &result, errors.New("invalid username or password")
	}

	isActive := *user.IsActive
	if !isActive {
		return &result, errors.New("user is disabled")
	}

	// resolve gate state at login so the client lands on the right route
	access, err := ResolveUserAccess(ctx, &user)
	if err != nil {
		return &result, err
	}

	// generate token & response
	token := uuid.New()
	result.Token = token.String()
	result.Name = user.Username
	result.Role = user.Role
	result.Balance = user.Balance
	result.AccessState = access.State

	tenantId := utils.DereferencePtr(user.TenantId)
	if tenantId != "" {
		tenant, err := GetTenantById(ctx, tenantId)
		if err != nil {
			return nil, err
		}
		result.TenantId = tenantId
		result.TenantName = tenant.Name
		result.CurrencyCode = tenant.CurrencyCode
		result.SubscriptionStatus = tenant.SubscriptionStatus
	}

	jwtToken, err := utils.JwtGenerate(user.ID, string(user.Role), tenantId)
	if err != nil {
		return &result, err
	}
	result.Jwt = jwtToken

	// store token in redis
	token_lifespan, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil {
		return &result, err
	}

	// add new token to the user's tokens set
	if err := config.AddRedisSet("Tokens:"+user.Username, token.String()); err != nil {
		return nil, err
	}
	if err := config.SetRedisValue("Token:"+token.String(), user.Username, time.Duration(token_lifespan)*time.Hour); err != nil {
		return &result, err
	}

	return &result, nil
}

func GetAllUsers(ctx context.Context) ([]*User, error) {

	db := config.GetDB()
	var results []*User

	if err := db.WithContext(ctx).Find(&results).Error; err != nil {
		return results, errors.New("no user")
	}

	for i, u := range results {
		u.Password = ""
		results[i] = u
	}

	return results, nil
}

// GetResellers lists the tenant's resellers with their current balances.
func GetResellers(ctx context.Context) ([]*User, error) {

	db := config.GetDB()
	var results []*User

	if err := db.WithContext(ctx).Model(&User{}).
		Where("role = ?", UserRoleRevendeur).
		Order("name").
		Find(&results).Error; err != nil {
		return nil, err
	}
	for i, u := range results {
		u.Password = ""
		results[i] = u
	}
	return results, nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	db := config.GetDB()
	var count int64

	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return &User{}, errors.New("invalid email address")
	}
	if _, err := ParseUserRole(string(input.Role)); err != nil {
		return &User{}, err
	}
	// an authenticated caller must be a manager. The public registration
	// flow carries no session role and creates the agency's first admin.
	if roleStr, ok := utils.GetUserRoleFromContext(ctx); ok {
		if !UserRole(roleStr).CanManageResellers() {
			return &User{}, utils.ErrPermissionDenied
		}
	}
	// only the super-admin may mint another super-admin
	if input.Role == UserRoleSuperAdmin {
		if err := requireSuperAdmin(ctx); err != nil {
			return &User{}, err
		}
	}

	err := db.WithContext(ctx).Model(&User{}).Where("username = ?", input.Username).Or("email = ?", input.Email).Count(&count).Error
	if err != nil {
		return &User{}, err
	}
	if count > 0 {
		return &User{}, errors.New("duplicate username or email")
	}

	if input.ZoneId != nil {
		if err := utils.ValidateResourceId[Zone](ctx, input.TenantId, *input.ZoneId); err != nil {
			return &User{}, errors.New("zone not found")
		}
	}

	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return &User{}, err
	}
	input.Email = strings.ToLower(input.Email)

	user := User{
		Username: html.EscapeString(strings.TrimSpace(input.Username)),
		TenantId: utils.NilIfEmpty(input.TenantId),
		Name:     input.Name,
		Email:    utils.NilIfEmpty(input.Email),
		Phone:    input.Phone,
		Password: string(hashedPassword),
		Role:     input.Role,
		ZoneId:   input.ZoneId,
		Balance:  decimal.Zero,
		IsActive: input.IsActive,
	}

	err = db.WithContext(ctx).Create(&user).Error
	if err != nil {
		return &User{}, err
	}
	user.Password = ""
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {

	db := config.GetDB()
	var result User

	err := db.WithContext(ctx).First(&result, id).Error

	if err != nil {
		return &result, utils.ErrorRecordNotFound
	}

	result.PrepareGive()

	return &result, nil
}

func (input *User) UpdateUser(ctx context.Context, id int) (*User, error) {

	role, ok := utils.GetUserRoleFromContext(ctx)
	if !ok || !UserRole(role).CanManageResellers() {
		return nil, utils.ErrPermissionDenied
	}

	db := config.GetDB()
	var count int64

	err := db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return &User{}, err
	}
	if count <= 0 {
		return nil, utils.ErrorRecordNotFound
	}

	if err = db.WithContext(ctx).Model(&User{}).
		Where("username = ? OR email = ?", input.Username, input.Email).
		Not("id = ?", id).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return &User{}, errors.New("duplicate email or username")
	}

	err = db.WithContext(ctx).Model(&User{}).Where("id = ?", id).
		Updates(User{Name: input.Name, Email: input.Email, Username: input.Username, Phone: input.Phone, ZoneId: input.ZoneId, IsActive: input.IsActive}).Error
	if err != nil {
		return &User{}, err
	}
	input.ID = id
	if err := input.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	return input, nil
}

// DeactivateUser is the default removal path: the row stays for audit,
// sessions are destroyed, logins are refused.
func DeactivateUser(ctx context.Context, id int) (*User, error) {

	role, ok := utils.GetUserRoleFromContext(ctx)
	if !ok || !UserRole(role).CanManageResellers() {
		return nil, utils.ErrPermissionDenied
	}

	db := config.GetDB()
	var user User

	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	if err := db.WithContext(ctx).Model(&User{}).Where("id = ?", id).
		Update("is_active", false).Error; err != nil {
		return nil, err
	}
	if err := user.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	if err := user.DestroyAllSessions(ctx); err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

// HardDeleteUser purges a user and everything hanging off them: assigned
// tickets return to NEUF, their sales and payments are removed. Super-admin
// or agency admin only.
func HardDeleteUser(ctx context.Context, id int) (*User, error) {

	role, ok := utils.GetUserRoleFromContext(ctx)
	if !ok {
		return nil, utils.ErrPermissionDenied
	}
	switch UserRole(role) {
	case UserRoleSuperAdmin, UserRoleAdmin:
	case UserRoleGestionnaire, UserRoleAgent, UserRoleRevendeur, UserRoleClient:
		return nil, utils.ErrPermissionDenied
	default:
		return nil, utils.ErrPermissionDenied
	}

	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	tx := db.Begin()
	// release the user's assigned stock back to the pool
	if err := tx.WithContext(ctx).Model(&Ticket{}).
		Where("assigned_to = ? AND status = ?", id, TicketStatusAssigne).
		Updates(map[string]interface{}{"status": TicketStatusNeuf, "assigned_to": nil}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Where("seller_id = ?", id).Delete(&SaleRecord{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Where("reseller_id = ?", id).Delete(&Payment{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(&User{}, id).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := user.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	if err := user.DestroyAllSessions(ctx); err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

func (user *User) DestroyAllSessions(ctx context.Context) error {
	allTokens, err := config.GetRedisSetMembers("Tokens:" + user.Username)
	if err != nil {
		return err
	}
	for _, token := range allTokens {
		if err := config.RemoveRedisKey("Token:" + token); err != nil {
			return err
		}
	}
	if err := config.RemoveRedisKey("Tokens:" + user.Username); err != nil {
		return err
	}

	return nil
}

func ChangePassword(ctx context.Context, oldPassword string, newPassword string) (*User, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	var user User
	db := config.GetDB()
	if err := db.WithContext(ctx).First(&user, userId).Error; err != nil {
		return nil, err
	}
	// check oldPassword
	if err := utils.ComparePassword(user.Password, oldPassword); err != nil {
		return nil, errors.New("old password is wrong")
	}

	hashedPassword, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(&user).UpdateColumn("password", string(hashedPassword)).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := config.RemoveRedisKey("User:" + user.Username); err != nil {
		tx.Rollback()
		return nil, err
	}

	// destroying all session tokens
	if err := user.DestroyAllSessions(ctx); err != nil {
		tx.Rollback()
		return nil, err
	}

	return &user, tx.Commit().Error
}

// lockUserForUpdate loads a user row under FOR UPDATE inside tx. Ledger
// operations use it to pin the balance before deciding anything.
func lockUserForUpdate(tx *gorm.DB, ctx context.Context, userId int) (*User, error) {
	var user User
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userId).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}
