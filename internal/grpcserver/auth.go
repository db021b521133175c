package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationMetadataKey = "authorization"
	bearerPrefix             = "bearer "

	errorMissingToken = "missing_token"
	errorInvalidToken = "invalid_token"
	errorExpiredToken = "expired_token"
)

var errInvalidToken = errors.New("invalid token")

// ServiceAuthConfig configures the HS256 service-to-service token check.
type ServiceAuthConfig struct {
	SigningKey []byte
	Issuer     string
	Now        func() time.Time
}

// ServiceClaims are the claims carried by calling services.
type ServiceClaims struct {
	jwt.RegisteredClaims
}

type claimsContextKey struct{}

// ClaimsFromContext returns the verified caller claims.
func ClaimsFromContext(ctx context.Context) (ServiceClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(ServiceClaims)
	return claims, ok
}

// AuthUnaryInterceptor rejects calls without a valid bearer token.
func AuthUnaryInterceptor(config ServiceAuthConfig) (grpc.UnaryServerInterceptor, error) {
	if len(config.SigningKey) == 0 {
		return nil, errors.New("grpcserver: signing key is required")
	}
	if strings.TrimSpace(config.Issuer) == "" {
		return nil, errors.New("grpcserver: issuer is required")
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return config.SigningKey, nil
	}
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		raw, ok := bearerToken(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, errorMissingToken)
		}
		claims := ServiceClaims{}
		token, err := parser.ParseWithClaims(raw, &claims, keyFunc)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return nil, status.Error(codes.Unauthenticated, errorExpiredToken)
			}
			return nil, status.Error(codes.Unauthenticated, errorInvalidToken)
		}
		if !token.Valid {
			return nil, status.Error(codes.Unauthenticated, errorInvalidToken)
		}
		return handler(context.WithValue(ctx, claimsContextKey{}, claims), request)
	}, nil
}

func bearerToken(ctx context.Context) (string, bool) {
	incoming, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := incoming.Get(authorizationMetadataKey)
	if len(values) == 0 {
		return "", false
	}
	value := strings.TrimSpace(values[0])
	if len(value) <= len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearerPrefix):])
	return token, token != ""
}
