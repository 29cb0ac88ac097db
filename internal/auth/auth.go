// Package auth handles account registration, credential verification and
// bearer-token authentication for the API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"aqua-monitor-backend/config"
	"aqua-monitor-backend/internal/apperr"
	"aqua-monitor-backend/internal/model"
)

// ErrInvalidCredentials is returned on login with a wrong email or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

const userContextKey = "auth.user"

// Service issues and verifies tokens and manages account credentials.
type Service struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
}

// NewService creates the auth service from the configured secret and TTL.
func NewService(db *gorm.DB, cfg *config.AuthConfig) *Service {
	return &Service{
		db:     db,
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TokenTTL,
	}
}

// Register creates a new account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, name, email, password string) (model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("email = ?", email).Count(&count).Error; err != nil {
		return model.User{}, err
	}
	if count > 0 {
		return model.User{}, apperr.BadRequest("email %s is already registered", email)
	}

	user := model.User{Name: name, Email: email, PasswordHash: string(hash)}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return model.User{}, err
	}
	return user, nil
}

// Login verifies the credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return s.IssueToken(user)
}

// IssueToken signs a token carrying the user id as subject.
func (s *Service) IssueToken(user model.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseToken verifies the signature and expiry and returns the user id.
func (s *Service) ParseToken(tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return 0, errors.New("token has no subject")
	}
	return strconv.ParseInt(claims.Subject, 10, 64)
}

// Middleware authenticates the request from the Authorization header and
// puts the loaded user into the gin context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, err := s.ParseToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user model.User
		if err := s.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// CurrentUser returns the authenticated user put in place by Middleware.
func CurrentUser(c *gin.Context) model.User {
	user, _ := c.MustGet(userContextKey).(model.User)
	return user
}
