package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/quocanhngo/devicegate/internal/model"
	"github.com/quocanhngo/devicegate/internal/repository"
	"github.com/quocanhngo/devicegate/pkg/auth"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// credentialCacheTTL bounds how long a verified client credential skips the
// bcrypt comparison
const credentialCacheTTL = 5 * time.Minute

var ErrInvalidCredential = errors.New("invalid client credentials")

// AuthService authenticates client apps. Every SDK call carries the app's
// client id and secret; dashboard calls exchange them once for a JWT.
type AuthService struct {
	clients    *repository.ClientRepository
	jwtManager *auth.JWTManager
	rdb        *redis.Client
}

func NewAuthService(clients *repository.ClientRepository, jwtManager *auth.JWTManager, rdb *redis.Client) *AuthService {
	return &AuthService{
		clients:    clients,
		jwtManager: jwtManager,
		rdb:        rdb,
	}
}

// Authenticate verifies a client id/secret pair and returns the app. A
// verified pair is cached in redis so the per-request bcrypt cost is paid
// once per TTL, not on every SDK call.
func (s *AuthService) Authenticate(ctx context.Context, clientID, secret string) (*model.ClientApp, error) {
	if clientID == "" {
		return nil, ErrInvalidCredential
	}

	app, err := s.clients.FindByClientID(clientID)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	cacheKey := credentialCacheKey(clientID, secret)
	if s.rdb != nil {
		if hit, err := s.rdb.Exists(ctx, cacheKey).Result(); err == nil && hit > 0 {
			return app, nil
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(app.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidCredential
	}

	if s.rdb != nil {
		// Cache failures only cost the next bcrypt comparison.
		s.rdb.Set(ctx, cacheKey, "1", credentialCacheTTL)
	}
	return app, nil
}

// IssueToken exchanges client credentials for a dashboard JWT
func (s *AuthService) IssueToken(ctx context.Context, req model.TokenRequest) (*model.TokenResponse, error) {
	app, err := s.Authenticate(ctx, req.ClientID, req.Secret)
	if err != nil {
		return nil, err
	}

	token, err := s.jwtManager.GenerateToken(app.ID, app.ClientID)
	if err != nil {
		return nil, errors.New("failed to generate token")
	}

	return &model.TokenResponse{Token: token, App: app.ToResponse()}, nil
}

// credentialCacheKey never stores the raw secret in redis
func credentialCacheKey(clientID, secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "auth:" + clientID + ":" + hex.EncodeToString(sum[:])
}
