package auth

import (
	"github.com/AfshinJalili/libris/libs/apperr"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const principalKey = "libris.principal"

// Principal is the caller identity taken from a verified access token.
type Principal struct {
	UserID uuid.UUID
	Email  string
}

// Middleware admits requests that carry a valid access token and stores
// the caller's Principal on the context. Refresh tokens are rejected even
// though they share the signing key.
func Middleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			unauthorized(c, "missing token")
			return
		}

		claims, err := ParseTyped(token, secret, TokenTypeAccess)
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			unauthorized(c, "invalid token subject")
			return
		}

		c.Set(principalKey, Principal{UserID: id, Email: claims.Email})
		c.Next()
	}
}

// PrincipalFrom returns the identity set by Middleware.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func unauthorized(c *gin.Context, message string) {
	kind := apperr.KindUnauthorized
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{"code": apperr.Code(kind), "message": message})
}
