// Package httpapi serves the seller and admin HTTP API over the settlement ledger.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey    = "auth_claims"
	principalContextKey = "settlement_principal"
	adminRole           = "admin"

	defaultRequestTimeout = 5 * time.Second
)

// SettingsStore loads and updates platform payout settings.
type SettingsStore interface {
	PlatformConfig(ctx context.Context) (ledger.PlatformConfig, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
}

// FactsSource supplies the externally owned payout facts.
type FactsSource interface {
	PayoutFacts(ctx context.Context, userID ledger.UserID) (ledger.PayoutFacts, error)
}

// Config carries router settings.
type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Roles  []string
}

// IsAdmin reports whether the caller holds the admin role.
func (principal Principal) IsAdmin() bool {
	for _, role := range principal.Roles {
		if strings.EqualFold(strings.TrimSpace(role), adminRole) {
			return true
		}
	}
	return false
}

// Handler serves the HTTP routes.
type Handler struct {
	logger         *zap.Logger
	ledgerService  *ledger.Service
	settings       SettingsStore
	facts          FactsSource
	requestTimeout time.Duration
}

// NewHandler wires the route handlers.
func NewHandler(logger *zap.Logger, ledgerService *ledger.Service, settings SettingsStore, facts FactsSource, config Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Handler{
		logger:         logger,
		ledgerService:  ledgerService,
		settings:       settings,
		facts:          facts,
		requestTimeout: timeout,
	}
}

// SessionAuthenticator validates the TAuth session cookie and records the caller.
func SessionAuthenticator(validator *sessionvalidator.Validator) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		validator.GinMiddleware(claimsContextKey),
		func(ctx *gin.Context) {
			claims := getClaims(ctx)
			if claims == nil || strings.TrimSpace(claims.GetUserID()) == "" {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
				return
			}
			ctx.Set(principalContextKey, Principal{UserID: claims.GetUserID(), Roles: claims.GetUserRoles()})
			ctx.Next()
		},
	}
}

// NewRouter builds the gin engine; authenticate must store a Principal for /api routes.
func NewRouter(config Config, handler *Handler, metrics http.Handler, authenticate ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	api := router.Group("/api")
	api.Use(authenticate...)
	api.GET("/account", handler.handleAccount)
	api.GET("/transactions", handler.handleTransactions)
	api.POST("/postpaid/repayments", handler.handleRepayment)
	api.GET("/payouts", handler.handleListPayouts)
	api.POST("/payouts", handler.handleRequestPayout)
	api.GET("/payouts/eligibility", handler.handlePayoutEligibility)
	api.POST("/payouts/:payout_id/cancel", handler.handleCancelPayout)

	admin := api.Group("/admin")
	admin.Use(requireAdmin)
	admin.POST("/accounts", handler.handleOpenAccount)
	admin.GET("/accounts/:user_id", handler.handleAdminAccount)
	admin.PUT("/accounts/:user_id/postpaid", handler.handleConfigurePostpaid)
	admin.PUT("/accounts/:user_id/active", handler.handleSetActive)
	admin.POST("/accounts/:user_id/adjustments", handler.handleAdjustment)
	admin.POST("/accounts/:user_id/wallet-credits", handler.handleWalletCredit)
	admin.POST("/accounts/:user_id/reversals", handler.handleReversal)
	admin.GET("/accounts/:user_id/transactions", handler.handleAdminTransactions)
	admin.POST("/accounts/:user_id/replay", handler.handleVerifyReplay)
	admin.GET("/payouts/:payout_id", handler.handleGetPayout)
	admin.POST("/payouts/:payout_id/approve", handler.handleApprovePayout)
	admin.POST("/payouts/:payout_id/reject", handler.handleRejectPayout)
	admin.POST("/payouts/:payout_id/complete", handler.handleCompletePayout)
	admin.GET("/settings", handler.handleGetSettings)
	admin.PUT("/settings/:key", handler.handlePutSetting)

	return router
}

func requireAdmin(ctx *gin.Context) {
	principal, ok := principalOf(ctx)
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !principal.IsAdmin() {
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
		return
	}
	ctx.Next()
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func principalOf(ctx *gin.Context) (Principal, bool) {
	value, ok := ctx.Get(principalContextKey)
	if !ok {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok
}

// WithPrincipal stores principal on the request; used by trusted front proxies and tests.
func WithPrincipal(principal Principal) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set(principalContextKey, principal)
		ctx.Next()
	}
}
