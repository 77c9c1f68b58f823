package connectors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/secrets"
)

// DefaultRefreshSkew refreshes tokens this long before they expire, so a
// token never dies mid-request.
const DefaultRefreshSkew = 5 * time.Minute

// Config keys OAuth adapters store their token under.
const (
	ConfigKeyAccessToken  = "access_token"
	ConfigKeyRefreshToken = "refresh_token"
	ConfigKeyTokenExpiry  = "token_expiry"
)

// StoredToken reads the OAuth token out of a decrypted config map.
func StoredToken(cfg map[string]interface{}) (*oauth2.Token, error) {
	access, _ := cfg[ConfigKeyAccessToken].(string)
	refresh, _ := cfg[ConfigKeyRefreshToken].(string)
	if access == "" && refresh == "" {
		return nil, fmt.Errorf("%w: no oauth token stored", ErrMissingCredentials)
	}

	tok := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
	}
	if raw, ok := cfg[ConfigKeyTokenExpiry].(string); ok && raw != "" {
		if expiry, err := time.Parse(time.RFC3339, raw); err == nil {
			tok.Expiry = expiry
		}
	}
	return tok, nil
}

// TokenSource implements oauth2.TokenSource over a stored connector
// credential: it refreshes early (within the skew of expiry) and persists
// rotated tokens back through the secret store before handing them out, so
// a crash after refresh never strands a revoked refresh token in the row.
type TokenSource struct {
	ctx   context.Context
	db    *gorm.DB
	store secrets.Store
	conn  *models.Connector
	ocfg  *oauth2.Config
	skew  time.Duration

	mu  sync.Mutex
	tok *oauth2.Token
}

// NewTokenSource builds a TokenSource from the connector's stored config.
// A zero skew gets the default.
func NewTokenSource(ctx context.Context, db *gorm.DB, store secrets.Store, conn *models.Connector, ocfg *oauth2.Config, skew time.Duration) (*TokenSource, error) {
	if skew <= 0 {
		skew = DefaultRefreshSkew
	}

	raw, err := conn.ConfigMap()
	if err != nil {
		return nil, fmt.Errorf("read connector config: %w", err)
	}
	plain, err := secrets.DecryptConfig(store, raw)
	if err != nil {
		return nil, fmt.Errorf("decrypt connector config: %w", err)
	}
	tok, err := StoredToken(plain)
	if err != nil {
		return nil, err
	}

	return &TokenSource{
		ctx:   ctx,
		db:    db,
		store: store,
		conn:  conn,
		ocfg:  ocfg,
		skew:  skew,
		tok:   tok,
	}, nil
}

// Token returns a live access token, refreshing when the stored one is
// within the skew of expiry. A revoked refresh token surfaces as
// ErrAuthenticationExpired.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fresh() {
		tok := *s.tok
		return &tok, nil
	}

	// Shift the expiry by the skew so oauth2 refreshes early.
	seed := *s.tok
	if !seed.Expiry.IsZero() {
		seed.Expiry = seed.Expiry.Add(-s.skew)
	}

	newTok, err := s.ocfg.TokenSource(s.ctx, &seed).Token()
	if err != nil {
		if isRevokedGrant(err) {
			return nil, fmt.Errorf("%w: %v", ErrAuthenticationExpired, err)
		}
		return nil, fmt.Errorf("refresh oauth token: %w", err)
	}

	if s.rotated(newTok) {
		if err := s.persist(newTok); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
	}

	s.tok = newTok
	tok := *newTok
	return &tok, nil
}

func (s *TokenSource) fresh() bool {
	if s.tok.AccessToken == "" {
		return false
	}
	if s.tok.Expiry.IsZero() {
		// Tokens without expiry never refresh proactively.
		return true
	}
	return time.Until(s.tok.Expiry) > s.skew
}

func (s *TokenSource) rotated(newTok *oauth2.Token) bool {
	if newTok.AccessToken != s.tok.AccessToken {
		return true
	}
	return newTok.RefreshToken != "" && newTok.RefreshToken != s.tok.RefreshToken
}

func (s *TokenSource) persist(tok *oauth2.Token) error {
	cfg, err := s.conn.ConfigMap()
	if err != nil {
		return err
	}

	cfg[ConfigKeyAccessToken] = tok.AccessToken
	if tok.RefreshToken != "" {
		cfg[ConfigKeyRefreshToken] = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		cfg[ConfigKeyTokenExpiry] = tok.Expiry.UTC().Format(time.RFC3339)
	}

	if err := secrets.EncryptConfig(s.store, cfg); err != nil {
		return err
	}
	return s.conn.SetConfigMap(s.db, cfg)
}

func isRevokedGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode == "invalid_grant" {
		return true
	}
	return strings.Contains(string(re.Body), "invalid_grant")
}
