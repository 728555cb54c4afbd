package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/pkg/config"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/response"
)

var (
	errMissingToken  = errors.New("missing bearer token")
	errNoSubject     = errors.New("token has no subject")
	errLongSubject   = errors.New("token subject is too long")
	errWrongIssuer   = errors.New("token issuer mismatch")
	errNoSecret      = errors.New("jwt secret is not configured")
	errSigningMethod = errors.New("unexpected signing method")
)

// maxSubjectLen is the width of the user_id columns.
const maxSubjectLen = 64

// TokenVerifier resolves a bearer token issued by the auth provider to a user id.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(cfg config.AuthConfig) *TokenVerifier {
	return &TokenVerifier{secret: []byte(cfg.JWTSecret), issuer: cfg.JWTIssuer}
}

// UserID validates the HS256 signature, expiry and issuer and returns the subject.
func (v *TokenVerifier) UserID(raw string) (string, error) {
	if len(v.secret) == 0 {
		return "", errNoSecret
	}
	claims := &jwt.StandardClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", errSigningMethod, t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return "", errWrongIssuer
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errNoSubject
	}
	if utf8.RuneCountInString(claims.Subject) > maxSubjectLen {
		return "", errLongSubject
	}
	return claims.Subject, nil
}

func bearerToken(c *gin.Context) (string, error) {
	h := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}

// AuthMiddleware rejects requests without a resolvable identity with 401 and
// stores the user id in gin.Context and the request context.
func AuthMiddleware(v *TokenVerifier, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		lg := logctx.FromGin(c, base)
		token, err := bearerToken(c)
		if err == nil {
			var userID string
			userID, err = v.UserID(token)
			if err == nil {
				c.Set(logctx.UserIDKey, userID)
				ctx := context.WithValue(c.Request.Context(), logctx.UserIDKey, userID)
				c.Request = c.Request.WithContext(ctx)
				logctx.WithLogger(c, lg.With("user_id", userID))
				c.Next()
				return
			}
		}
		if errors.Is(err, errNoSecret) {
			lg.Errorw("bearer auth is not configured")
		} else {
			lg.Debugw("unauthenticated request", "err", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
	}
}

// UserID returns the authenticated user id, or "" before AuthMiddleware ran.
func UserID(c *gin.Context) string {
	return c.GetString(logctx.UserIDKey)
}
