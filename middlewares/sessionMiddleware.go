package middlewares

import (
	"context"
	"net/http"

	"bitbucket.org/wifizone/hotspot_backend/config"
	"bitbucket.org/wifizone/hotspot_backend/models"
	"bitbucket.org/wifizone/hotspot_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware hydrates the request context from the opaque session
// token. The user record is redis-cached per username; the super-admin gets
// the IsAdmin flag, which the tenant guard reads to skip scoping.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyToken, token)
		ctx = context.WithValue(ctx, utils.ContextKeyUsername, username)

		user, err := loadSessionUser(ctx, username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx = utils.SetUserIdInContext(ctx, user.ID)
		ctx = utils.SetUserNameInContext(ctx, user.Name)
		ctx = utils.SetUserRoleInContext(ctx, string(user.Role))
		if user.TenantId != nil {
			ctx = utils.SetTenantIdInContext(ctx, *user.TenantId)
		}
		if user.Role == models.UserRoleSuperAdmin {
			ctx = utils.SetIsAdminInContext(ctx, true)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func loadSessionUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if exists {
		return &user, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&models.User{}).
		Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, err
	}
	if err := config.SetRedisObject("User:"+username, &user, 0); err != nil {
		return nil, err
	}
	return &user, nil
}
