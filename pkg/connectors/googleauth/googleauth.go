// Package googleauth carries what the Google Workspace adapters share: the
// OAuth config wiring and the googleapi error classification.
package googleauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// Credentials are the config keys every Google connector carries.
type Credentials struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// OAuthConfig builds the oauth2 config for a Google connector.
func OAuthConfig(creds Credentials, scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
}

// TokenSource builds the auto-refreshing, auto-persisting token source for
// a Google connector row.
func TokenSource(ctx context.Context, deps connectors.Deps, conn *models.Connector, creds Credentials, scopes ...string) (oauth2.TokenSource, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: google connector needs client_id and client_secret", connectors.ErrMissingCredentials)
	}
	return connectors.NewTokenSource(ctx, deps.DB, deps.Secrets, conn, OAuthConfig(creds, scopes...), connectors.DefaultRefreshSkew)
}

// rateLimitReasons are the googleapi error reasons Google reports quota
// exhaustion under, across Drive, Gmail and Calendar.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
}

// Classify maps a googleapi error onto the connector error kinds so the
// shared retry loop can act on it.
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return connectors.ClassifyTransport(ctx, err)
	}

	switch {
	case gerr.Code == http.StatusTooManyRequests || isRateLimited(gerr):
		return &connectors.RetryableError{
			Reason:     connectors.RetryReasonRateLimit,
			RetryAfter: connectors.ParseRetryAfter(gerr.Header.Get("Retry-After"), time.Now()),
			Err:        err,
		}
	case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %v", connectors.ErrInvalidCredentials, err)
	case gerr.Code >= 500:
		return &connectors.RetryableError{
			Reason: connectors.RetryReasonServerError,
			Err:    err,
		}
	default:
		return err
	}
}

func isRateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if rateLimitReasons[item.Reason] {
			return true
		}
	}
	return strings.Contains(gerr.Message, "Rate Limit") || strings.Contains(gerr.Message, "rate limit")
}

// Do runs op with the shared retry policy, classifying each failure first.
func Do(ctx context.Context, op func() error) error {
	return connectors.Do(ctx, connectors.RetryPolicy{}, func() error {
		return Classify(ctx, op())
	})
}
