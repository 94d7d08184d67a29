package httpapi

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyOrgID     = "org_id"
	headerAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

// serviceClaims is the payload of an internal service token. The org claim
// scopes every request; iat and exp bound the token's freshness.
type serviceClaims struct {
	OrgID string `json:"org_id"`
	jwt.RegisteredClaims
}

// newCallerGate builds the middleware admitting internal callers. A request
// passes when its source address matches the allow-list and it carries a
// fresh HS256 service token naming the org it acts for.
func newCallerGate(cfg Config) (gin.HandlerFunc, error) {
	prefixes := make([]netip.Prefix, 0, len(cfg.AllowedCallerCIDRs))
	for _, cidr := range cfg.AllowedCallerCIDRs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse caller cidr %q: %w", cidr, err)
		}
		prefixes = append(prefixes, prefix)
	}
	signingKey := []byte(cfg.SigningKey)
	maxAge := cfg.tokenMaxAge()

	return func(ctx *gin.Context) {
		if len(prefixes) > 0 && !callerAllowed(prefixes, ctx.ClientIP()) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "caller address not allowed"))
			return
		}
		rawToken, ok := bearerToken(ctx.GetHeader(headerAuthorization))
		if !ok {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing service token"))
			return
		}
		claims := &serviceClaims{}
		_, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
			return signingKey, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid service token"))
			return
		}
		if claims.OrgID == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "token missing org claim"))
			return
		}
		if claims.IssuedAt == nil || time.Since(claims.IssuedAt.Time) > maxAge {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "stale service token"))
			return
		}
		ctx.Set(contextKeyOrgID, claims.OrgID)
		ctx.Next()
	}, nil
}

func callerAllowed(prefixes []netip.Prefix, clientIP string) bool {
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	return token, token != ""
}
