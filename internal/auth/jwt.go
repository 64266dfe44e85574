package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the claims of an access token issued by the identity service.
type Claims struct {
	UserID uuid.UUID  `json:"user_id"`
	TeamID *uuid.UUID `json:"team_id,omitempty"`
	Email  string     `json:"email"`
	Role   string     `json:"role"`
	jwt.RegisteredClaims
}

// JWTService validates HS256 access tokens. Issue exists for tooling and tests; users
// sign in through the identity service.
type JWTService struct {
	secret      []byte
	issuer      string
	expireHours int
}

// NewJWTService creates a JWT service. A non-empty issuer must match the token's iss claim.
func NewJWTService(secret, issuer string, expireHours int) *JWTService {
	return &JWTService{
		secret:      []byte(secret),
		issuer:      issuer,
		expireHours: expireHours,
	}
}

// Issue creates a token for the user.
func (s *JWTService) Issue(userID uuid.UUID, teamID *uuid.UUID, email, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		TeamID: teamID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a token, returning its claims.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
