package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const organizationKey = "organizationID"

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())
	s.Router.Use(s.requestLogger())

	corsConfig := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(s.Config.Auth.CORSOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.Config.Auth.CORSOrigins
		corsConfig.AllowCredentials = true
	}
	s.Router.Use(cors.New(corsConfig))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			s.Logger.Error("Request failed", fields...)
			return
		}
		s.Logger.Debug("Request handled", fields...)
	}
}

// authMiddleware resolves the caller's organization from an HS256 token in
// the Authorization header or the access_token cookie. Without a configured
// secret every request runs unscoped.
func (s *Server) authMiddleware() gin.HandlerFunc {
	secret := s.Config.Auth.JWTSecret
	if secret == "" {
		return func(c *gin.Context) {
			c.Set(organizationKey, uint(0))
			c.Next()
		}
	}

	return func(c *gin.Context) {
		accessToken := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if accessToken == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				accessToken = cookie
			}
		}
		if accessToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing access token"})
			return
		}

		token, err := jwt.Parse(accessToken, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}

		orgID, err := organizationClaim(claims["organization_id"])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid organization ID"})
			return
		}

		c.Set(organizationKey, orgID)
		c.Next()
	}
}

func organizationClaim(raw interface{}) (uint, error) {
	switch v := raw.(type) {
	case float64:
		if v < 1 {
			return 0, fmt.Errorf("organization id must be positive")
		}
		return uint(v), nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return 0, fmt.Errorf("invalid organization id %q", v)
		}
		return uint(n), nil
	default:
		return 0, fmt.Errorf("missing organization id")
	}
}

func organizationID(c *gin.Context) uint {
	return c.GetUint(organizationKey)
}
