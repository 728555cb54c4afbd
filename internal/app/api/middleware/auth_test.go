package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/pkg/config"
	"github.com/tradejournal/billing/pkg/logctx"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.StandardClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestTokenVerifier_UserID(t *testing.T) {
	v := NewTokenVerifier(config.AuthConfig{JWTSecret: testSecret, JWTIssuer: "https://auth.example"})
	future := time.Now().Add(time.Hour).Unix()
	past := time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{
			name:  "valid",
			token: signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.StandardClaims{Subject: "user-1", Issuer: "https://auth.example", ExpiresAt: future}),
			want:  "user-1",
		},
		{
			name:    "expired",
			token:   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.StandardClaims{Subject: "user-1", Issuer: "https://auth.example", ExpiresAt: past}),
			wantErr: true,
		},
		{
			name:    "wrong secret",
			token:   signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.StandardClaims{Subject: "user-1", Issuer: "https://auth.example", ExpiresAt: future}),
			wantErr: true,
		},
		{
			name:    "wrong issuer",
			token:   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.StandardClaims{Subject: "user-1", Issuer: "https://evil.example", ExpiresAt: future}),
			wantErr: true,
		},
		{
			name:    "no subject",
			token:   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.StandardClaims{Issuer: "https://auth.example", ExpiresAt: future}),
			wantErr: true,
		},
		{
			name:  "subject at column width",
			token: signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.StandardClaims{Subject: strings.Repeat("u", maxSubjectLen), Issuer: "https://auth.example", ExpiresAt: future}),
			want:  strings.Repeat("u", maxSubjectLen),
		},
		{
			name:    "subject too long",
			token:   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.StandardClaims{Subject: strings.Repeat("u", maxSubjectLen+1), Issuer: "https://auth.example", ExpiresAt: future}),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not-a-jwt",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.UserID(tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTokenVerifier_NoSecret(t *testing.T) {
	v := NewTokenVerifier(config.AuthConfig{})
	tok := signToken(t, jwt.SigningMethodHS256, []byte(""), jwt.StandardClaims{Subject: "user-1"})
	_, err := v.UserID(tok)
	require.ErrorIs(t, err, errNoSecret)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewTokenVerifier(config.AuthConfig{JWTSecret: testSecret})
	r := gin.New()
	r.Use(AuthMiddleware(v, zap.NewNop().Sugar()))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c)+"|"+logctx.UserID(c.Request.Context()))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.StandardClaims{Subject: "user-42"}))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-42|user-42", w.Body.String())
}

func TestTraceMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware())
	r.GET("/t", func(c *gin.Context) {
		c.String(http.StatusOK, logctx.TraceID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/t", nil)
	req.Header.Set(RequestIDHeader, "trace-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "trace-abc", w.Body.String())
	require.Equal(t, "trace-abc", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/t", nil))
	require.NotEmpty(t, w.Body.String())
	require.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
}
