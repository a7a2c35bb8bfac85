// Package request extracts the acting user and path parameters from HTTP
// requests.
package request

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/fulfillment/internal/actor"
	"github.com/Additional-Code/fulfillment/pkg/errorbank"
)

// Headers carrying the acting user. An authenticating proxy in front of
// the service is expected to set them.
const (
	HeaderUserID    = "X-User-ID"
	HeaderCompanyID = "X-Company-ID"
	HeaderTimezone  = "X-Timezone"
)

// Actor builds the acting user from request headers. Missing headers leave
// the corresponding field zero.
func Actor(c echo.Context) (actor.Actor, error) {
	var act actor.Actor
	h := c.Request().Header

	userID, err := optionalInt(h.Get(HeaderUserID))
	if err != nil {
		return act, errorbank.BadRequest("invalid "+HeaderUserID+" header", errorbank.WithCause(err))
	}
	companyID, err := optionalInt(h.Get(HeaderCompanyID))
	if err != nil {
		return act, errorbank.BadRequest("invalid "+HeaderCompanyID+" header", errorbank.WithCause(err))
	}

	act.UserID = userID
	act.CompanyID = companyID
	act.Timezone = strings.TrimSpace(h.Get(HeaderTimezone))
	return act, nil
}

// ID parses a positive integer path parameter.
func ID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.BadRequest("invalid "+name, errorbank.WithCause(err))
	}
	return id, nil
}

func optionalInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
