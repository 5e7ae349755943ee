package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
)

const userKey = "auction.user"

// SetUser stores the authenticated caller on the request context
func SetUser(c *gin.Context, user model.User) {
	c.Set(userKey, user)
}

// CurrentUser returns the caller set by the identity middleware
func CurrentUser(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return model.User{}, false
	}
	user, ok := v.(model.User)
	return user, ok && user.UserID != ""
}

// ParseAmount accepts positive whole numbers only; anything else is reported as invalid
func ParseAmount(raw json.Number, invalid error) (int64, error) {
	s := strings.TrimSpace(raw.String())
	if s == "" {
		return 0, fmt.Errorf("%w - missing", invalid)
	}
	n, err := json.Number(s).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w - %q is not a whole number", invalid, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w - must be positive", invalid)
	}
	return n, nil
}

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, code string, err error) {
	utils.JSONError(c, http.StatusBadRequest, code, "invalid request payload", nil)
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrInvalidAmount),
		errors.Is(err, biddingerrors.ErrInvalidMaxAmount):
		return http.StatusBadRequest, "invalid amount"
	case errors.Is(err, biddingerrors.ErrEmptyComment):
		return http.StatusBadRequest, "comment is empty"
	case errors.Is(err, biddingerrors.ErrCommentTooLong):
		return http.StatusBadRequest, "comment is too long"
	case errors.Is(err, biddingerrors.ErrInvalidLot):
		return http.StatusBadRequest, "invalid lot details"
	case errors.Is(err, biddingerrors.ErrLotNotFound):
		return http.StatusNotFound, "lot not found"
	case errors.Is(err, biddingerrors.ErrAutoBidNotFound):
		return http.StatusNotFound, "auto-bid not found"
	case errors.Is(err, biddingerrors.ErrLotClosed):
		return http.StatusConflict, "lot is not open for bidding"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrBidConflict):
		return http.StatusConflict, "bid lost to concurrent bids, retry"
	case errors.Is(err, biddingerrors.ErrUnauthorized):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, biddingerrors.ErrForbidden):
		return http.StatusForbidden, "admin access required"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// WriteError renders a service error with its stable code. BID_TOO_LOW
// carries the current minimum so clients can offer it without a refetch.
// Infrastructure failures are logged at error level, domain rejections at info.
func WriteError(c *gin.Context, handlerName string, err error, fields map[string]any) {
	status, message := MapErrorToHTTP(err)
	code := biddingerrors.Code(err)

	var extra gin.H
	if minimum, ok := biddingerrors.MinimumBid(err); ok {
		code = biddingerrors.CodeBidTooLow
		extra = gin.H{"minimum": minimum}
	}
	utils.JSONError(c, status, code, message, extra)

	if fields == nil {
		fields = map[string]any{}
	}
	fields["handler"] = handlerName
	fields["error"] = err.Error()
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": request failed", fields)
		return
	}
	utils.Info(handlerName+": request rejected", fields)
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
