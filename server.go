package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/middlewares"
	"bitbucket.org/wifizone/hotspot_backend/models"
	"bitbucket.org/wifizone/hotspot_backend/utils"
	"bitbucket.org/wifizone/hotspot_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// respondError maps domain errors onto HTTP statuses. Ledger rule
// violations are client errors; infrastructure trouble is a 503.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrBackendUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrInsufficientStock),
		errors.Is(err, utils.ErrOutOfStock),
		errors.Is(err, utils.ErrInsufficientBalance),
		errors.Is(err, utils.ErrInvalidPhone):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// respondBindError answers a failed input binding. Tag violations come back
// as a per-field map so the client can highlight the offending inputs.
func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid request",
			"fields": utils.ProcessValidationErrors(verrs),
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

func requireSession(c *gin.Context) bool {
	if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": ok})
	}
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func changePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		user, err := models.ChangePassword(c.Request.Context(), req.OldPassword, req.NewPassword)
		if err != nil {
			respondError(c, err)
			return
		}
		user.PrepareGive()
		c.JSON(http.StatusOK, user)
	}
}

type registerRequest struct {
	Tenant models.NewTenant `json:"tenant" binding:"required"`
	Admin  struct {
		Username string `json:"username" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Password string `json:"password" binding:"required"`
	} `json:"admin" binding:"required"`
}

// registerHandler signs up a new agency: the tenant row (PENDING) and its
// first ADMIN user. The gate keeps the admin on the pending page until the
// super-admin approves.
func registerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		ctx := c.Request.Context()
		tenant, err := models.CreateTenant(ctx, &req.Tenant)
		if err != nil {
			respondError(c, err)
			return
		}

		admin, err := models.CreateUser(ctx, &models.NewUser{
			TenantId: tenant.ID.String(),
			Username: req.Admin.Username,
			Name:     req.Admin.Name,
			Email:    req.Admin.Email,
			Phone:    req.Admin.Phone,
			Password: req.Admin.Password,
			Role:     models.UserRoleAdmin,
			IsActive: utils.NewTrue(),
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"tenant": tenant, "admin": admin})
	}
}

func gateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		access, err := models.ResolveSessionAccess(c.Request.Context())
		if err != nil {
			// fail closed but tell the client why
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":  err.Error(),
				"access": access,
			})
			return
		}
		c.JSON(http.StatusOK, access)
	}
}

// gateSubscribeHandler long-polls the tenant's subscription feed: it
// answers with the first change seen within the window, or 204.
func gateSubscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		ctx := c.Request.Context()
		tenantId, ok := utils.GetTenantIdFromContext(ctx)
		if !ok || tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no tenant linked"})
			return
		}
		roleStr, _ := utils.GetUserRoleFromContext(ctx)

		updates, stop, err := models.WatchTenantSubscription(ctx, tenantId, models.UserRole(roleStr))
		if err != nil {
			respondError(c, err)
			return
		}
		defer stop()

		select {
		case update, ok := <-updates:
			if !ok {
				c.Status(http.StatusNoContent)
				return
			}
			c.JSON(http.StatusOK, update)
		case <-time.After(25 * time.Second):
			c.Status(http.StatusNoContent)
		case <-ctx.Done():
			c.Status(http.StatusNoContent)
		}
	}
}

func registerTenantAdminRoutes(r *gin.Engine) {
	r.GET("/admin/tenants", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		tenants, err := models.GetAllTenants(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tenants)
	})
	r.POST("/admin/tenants/:id/approve", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		tenant, err := models.ApproveTenant(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tenant)
	})
	r.POST("/admin/tenants/:id/suspend", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		tenant, err := models.SuspendTenant(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tenant)
	})
	r.POST("/admin/tenants/:id/reactivate", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		tenant, err := models.ReactivateTenant(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tenant)
	})
	r.POST("/admin/tenants/:id/extend", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req struct {
			Months int `json:"months" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		tenant, err := models.ExtendSubscription(c.Request.Context(), c.Param("id"), req.Months)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tenant)
	})
	r.GET("/admin/settings", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		settings, err := models.GetSaasSettings(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, settings)
	})
	r.PUT("/admin/settings", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req models.UpdateSaasSettingsInput
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		settings, err := models.UpdateSaasSettings(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, settings)
	})
}

func registerUserRoutes(r *gin.Engine) {
	r.GET("/users", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		users, err := models.GetAllUsers(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, users)
	})
	r.POST("/users", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req models.NewUser
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		// staff created through this endpoint always belongs to the
		// caller's tenant
		if tenantId, ok := utils.GetTenantIdFromContext(c.Request.Context()); ok && tenantId != "" {
			req.TenantId = tenantId
		}
		user, err := models.CreateUser(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	})
	r.GET("/users/:id", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		user, err := models.GetUser(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	})
	r.PUT("/users/:id", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var req models.User
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		user, err := req.UpdateUser(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		user.PrepareGive()
		c.JSON(http.StatusOK, user)
	})
	r.DELETE("/users/:id", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		user, err := models.DeactivateUser(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	})
	r.DELETE("/users/:id/purge", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		user, err := models.HardDeleteUser(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	})
	r.GET("/resellers", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		resellers, err := models.GetResellers(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resellers)
	})
}

func registerCatalogRoutes(r *gin.Engine) {
	r.GET("/zones", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		zones, err := models.GetAllZones(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, zones)
	})
	r.POST("/zones", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req models.NewZone
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		zone, err := models.CreateZone(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, zone)
	})
	r.DELETE("/zones/:id", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		zone, err := models.DeleteZone(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, zone)
	})

	r.GET("/profiles", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		profiles, err := models.GetAllTicketProfiles(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, profiles)
	})
	r.POST("/profiles", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req models.NewTicketProfile
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		profile, err := models.CreateTicketProfile(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, profile)
	})
	r.PUT("/profiles/:id", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var req models.NewTicketProfile
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		profile, err := models.UpdateTicketProfile(c.Request.Context(), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, profile)
	})
	r.DELETE("/profiles/:id", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		profile, err := models.DeleteTicketProfile(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, profile)
	})
	r.GET("/profiles/low-stock", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		report, err := models.GetLowStockProfiles(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func registerLedgerRoutes(r *gin.Engine) {
	r.POST("/tickets/import", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req models.ImportTicketsInput
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		result, err := models.ImportTickets(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})
	r.GET("/tickets/stock", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		summary, err := models.GetStockSummary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
	r.GET("/tickets/stock/:resellerId", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		resellerId, err := strconv.Atoi(c.Param("resellerId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reseller id"})
			return
		}
		stock, err := models.GetResellerStock(c.Request.Context(), resellerId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stock)
	})
	r.POST("/tickets/assign", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req struct {
			ResellerId int `json:"reseller_id" binding:"required"`
			ProfileId  int `json:"profile_id" binding:"required"`
			Quantity   int `json:"quantity" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		assigned, err := models.AssignStock(c.Request.Context(), req.ResellerId, req.ProfileId, req.Quantity)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"assigned": assigned})
	})
	r.POST("/tickets/expire-batch", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req struct {
			BatchId string `json:"batch_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		expired, err := models.ExpireBatch(c.Request.Context(), req.BatchId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"expired": expired})
	})

	r.POST("/sales", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req models.NewSale
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		result, err := models.SellTicket(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})
	r.DELETE("/sales/:id", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		sale, err := models.CancelSale(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sale)
	})
	r.GET("/sales", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var filter models.SalesFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
			return
		}
		sales, err := models.GetSalesHistory(c.Request.Context(), &filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sales)
	})

	r.POST("/payments", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req models.NewPayment
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		payment, err := models.RecordPayment(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, payment)
	})
	r.GET("/payments", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var filter models.PaymentsFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
			return
		}
		payments, err := models.GetPayments(c.Request.Context(), &filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, payments)
	})
	r.POST("/payments/:id/approve", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		payment, err := models.ApprovePayment(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, payment)
	})
	r.POST("/payments/:id/reject", func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		payment, err := models.RejectPayment(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, payment)
	})
}

type reconcileRequest struct {
	TenantId string `json:"tenant_id"`
}

// reconcileHandler recomputes reseller balances from the ledger and reports
// drift. Tenant admins run it for their own tenant; the super-admin may
// name any tenant.
func reconcileHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		ctx := c.Request.Context()
		roleStr, _ := utils.GetUserRoleFromContext(ctx)
		role := models.UserRole(roleStr)
		if !role.CanManageResellers() {
			c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}

		var req reconcileRequest
		_ = c.ShouldBindJSON(&req)

		tenantId, _ := utils.GetTenantIdFromContext(ctx)
		if role == models.UserRoleSuperAdmin && req.TenantId != "" {
			tenantId = req.TenantId
		}
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}

		drifts, err := workflow.ReconcileResellerBalances(ctx, config.GetDB(), logger, tenantId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenant_id": tenantId, "drifts": drifts})
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/login", loginHandler())
	r.POST("/auth/logout", logoutHandler())
	r.POST("/auth/change-password", changePasswordHandler())
	r.POST("/tenants/register", registerHandler())
	r.GET("/gate", gateHandler())
	r.GET("/gate/subscribe", gateSubscribeHandler())

	registerTenantAdminRoutes(r)
	registerUserRoutes(r)
	registerCatalogRoutes(r)
	registerLedgerRoutes(r)

	// Ops tooling: balance drift report.
	r.POST("/internal/ops/reconcile", reconcileHandler(logger))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewSubscriptionOutboxDispatcher(db, logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP()

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
