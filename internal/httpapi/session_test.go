package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
)

const (
	testSessionKey    = "session-signing-key"
	testSessionIssuer = "tauth"
	testSessionCookie = "app_session"
)

func buildSessionCookie(test *testing.T, userID string) *http.Cookie {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: "Seller",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSessionKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: testSessionCookie, Value: signed}
}

func TestSessionAuthenticator(test *testing.T) {
	test.Parallel()
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(testSessionKey),
		Issuer:     testSessionIssuer,
		CookieName: testSessionCookie,
	})
	if err != nil {
		test.Fatalf("session validator: %v", err)
	}
	service, err := ledger.NewService(memstore.New(), time.Now)
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	config := Config{AllowedOrigins: []string{"http://localhost:8000"}}
	handler := NewHandler(nil, service, nil, nil, config)
	router := NewRouter(config, handler, nil, SessionAuthenticator(validator)...)

	cases := []struct {
		name   string
		path   string
		cookie *http.Cookie
		status int
	}{
		{name: "no cookie", path: "/api/account", status: http.StatusUnauthorized},
		{name: "tampered cookie", path: "/api/account", cookie: &http.Cookie{Name: testSessionCookie, Value: "garbage"}, status: http.StatusUnauthorized},
		{name: "valid session reaches ledger", path: "/api/account", cookie: buildSessionCookie(test, "seller-9"), status: http.StatusNotFound},
		{name: "valid session without admin role", path: "/api/admin/settings", cookie: buildSessionCookie(test, "seller-9"), status: http.StatusForbidden},
		{name: "metrics disabled", path: "/metrics", status: http.StatusNotFound},
	}
	for _, testCase := range cases {
		request := httptest.NewRequest(http.MethodGet, testCase.path, nil)
		if testCase.cookie != nil {
			request.AddCookie(testCase.cookie)
		}
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)
		if recorder.Code != testCase.status {
			test.Fatalf("%s: expected %d, got %d: %s", testCase.name, testCase.status, recorder.Code, recorder.Body.String())
		}
	}
}

func TestPrincipalIsAdmin(test *testing.T) {
	test.Parallel()
	cases := []struct {
		roles []string
		want  bool
	}{
		{roles: nil, want: false},
		{roles: []string{"seller"}, want: false},
		{roles: []string{"seller", " Admin "}, want: true},
	}
	for _, testCase := range cases {
		if got := (Principal{UserID: "u", Roles: testCase.roles}).IsAdmin(); got != testCase.want {
			test.Fatalf("roles %v: expected %v, got %v", testCase.roles, testCase.want, got)
		}
	}
}
