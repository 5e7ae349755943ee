package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/services/bidding/helpers"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
)

// Identity headers set by the upstream identity layer after it verified the caller
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

// Authenticator resolves the verified caller of a request
type Authenticator interface {
	Authenticate(r *http.Request) (model.User, error)
}

// HeaderAuthenticator trusts identity headers injected by a gateway in front of the service
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (model.User, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return model.User{}, fmt.Errorf("server: %w - missing %s header", biddingerrors.ErrUnauthorized, HeaderUserID)
	}
	name := strings.TrimSpace(r.Header.Get(HeaderUserName))
	if name == "" {
		name = id
	}
	return model.User{UserID: id, Username: name}, nil
}

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}
	if user, ok := helpers.CurrentUser(c); ok {
		fields["user_id"] = user.UserID
	}
	utils.Info("HTTP Request", fields)
}

// IdentityMiddleware attaches the caller to the request when one can be resolved.
// Anonymous requests continue; handlers that need a user reject them.
func IdentityMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, err := auth.Authenticate(c.Request); err == nil {
			helpers.SetUser(c, user)
		}
		c.Next()
	}
}

// AdminMiddleware only lets through callers for which isAdmin holds
func AdminMiddleware(isAdmin func(userID string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := helpers.CurrentUser(c)
		if !ok {
			helpers.WriteError(c, "AdminMiddleware", biddingerrors.ErrUnauthorized, map[string]any{"path": c.Request.URL.Path})
			return
		}
		if isAdmin == nil || !isAdmin(user.UserID) {
			helpers.WriteError(c, "AdminMiddleware", biddingerrors.ErrForbidden, map[string]any{
				"path":    c.Request.URL.Path,
				"user_id": user.UserID,
			})
			return
		}
		c.Next()
	}
}
