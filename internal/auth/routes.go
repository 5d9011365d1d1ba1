package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/config"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes registers the token endpoints.
func RegisterRoutes(router *gin.Engine, db *gorm.DB) {
	v1 := router.Group("/api/v1/auth")
	{
		v1.POST("/login", login(db))
		v1.POST("/refresh", refresh(db))
		v1.GET("/me", RequireUser(), me(db))
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func login(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request: " + err.Error()})
			return
		}

		var user database.User
		if err := db.Where("username = ?", req.Username).First(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid username or password"})
			return
		}
		if !VerifyPassword(req.Password, user.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid username or password"})
			return
		}

		accessToken, err := CreateToken(user.ID, user.Username, user.IsAdmin, TokenKindAccess)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create token"})
			return
		}
		refreshToken, err := CreateToken(user.ID, user.Username, user.IsAdmin, TokenKindRefresh)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create token"})
			return
		}

		ttl := time.Duration(config.Get().Auth.RefreshTokenExpireDays) * 24 * time.Hour
		db.Create(&database.RefreshToken{
			UserID:    user.ID,
			TokenHash: hashToken(refreshToken),
			ExpiresAt: time.Now().UTC().Add(ttl),
		})

		c.JSON(http.StatusOK, gin.H{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"token_type":    "bearer",
		})
	}
}

func refresh(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request: " + err.Error()})
			return
		}

		claims, err := VerifyToken(req.RefreshToken, TokenKindRefresh)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid or expired refresh token"})
			return
		}

		var stored database.RefreshToken
		err = db.Where("token_hash = ? AND revoked = ?", hashToken(req.RefreshToken), false).
			First(&stored).Error
		if err != nil || time.Now().UTC().After(stored.ExpiresAt) {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Refresh token revoked or expired"})
			return
		}

		accessToken, err := CreateToken(claims.UserID, claims.Username, claims.IsAdmin, TokenKindAccess)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": accessToken, "token_type": "bearer"})
	}
}

func me(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		var user database.User
		if err := db.First(&user, claims.UserID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}
