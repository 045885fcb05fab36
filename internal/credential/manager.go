package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ccfrost/guestdrive/internal/apperr"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// ErrNotAuthorized is returned while no credential has been obtained yet.
var ErrNotAuthorized = errors.New("storage provider not authorized; complete the /auth/google flow")

type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// RefreshToken, when set, is used instead of TokenFile and nothing is
	// persisted.
	RefreshToken string
	TokenFile    string

	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint
	Logger   *slog.Logger
}

// Manager issues access tokens for the storage provider and keeps the Store
// up to date as they are refreshed.
type Manager struct {
	conf    *oauth2.Config
	store   *Store
	envMode bool
	logger  *slog.Logger

	// refreshMu serializes refreshes so concurrent requests do not each
	// spend the refresh token.
	refreshMu sync.Mutex
}

// NewManager builds a Manager and loads the persisted token, if any.
func NewManager(opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	endpoint := opts.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	m := &Manager{
		conf: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       []string{drive.DriveFileScope},
			Endpoint:     endpoint,
		},
		logger: logger,
	}

	if opts.RefreshToken != "" {
		m.envMode = true
		m.store = NewMemoryStore(&oauth2.Token{RefreshToken: opts.RefreshToken}, logger)
		logger.Info("using refresh token from configuration")
		return m, nil
	}

	m.store = NewStore(opts.TokenFile, logger)
	if err := m.store.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Configured reports whether the OAuth client id and secret are set.
func (m *Manager) Configured() bool {
	return m.conf.ClientID != "" && m.conf.ClientSecret != ""
}

func (m *Manager) State() State {
	return m.store.State()
}

func (m *Manager) Store() *Store {
	return m.store
}

// AuthCodeURL returns the consent screen URL. Offline access and a forced
// consent prompt make the provider return a refresh token every time.
func (m *Manager) AuthCodeURL(state string) string {
	return m.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and persists it.
func (m *Manager) Exchange(ctx context.Context, code string) error {
	if !m.Configured() {
		return apperr.Configurationf("google client id and secret are not configured")
	}
	tok, err := m.conf.Exchange(ctx, code)
	if err != nil {
		return apperr.Provider("token exchange failed", err)
	}
	if err := m.store.Set(tok); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	m.logger.Info("authorization complete", "path", m.store.Path(), "hasRefreshToken", tok.RefreshToken != "")
	return nil
}

// TokenSource returns a source of valid access tokens. It follows later
// Exchange calls, and every refreshed token is merged into the Store. ctx is
// used for refresh requests and should outlive any single request.
func (m *Manager) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if !m.Configured() {
		return nil, apperr.Configurationf("google client id and secret are not configured")
	}
	if m.store.State() == Uninitialized {
		return nil, ErrNotAuthorized
	}
	return &persistingSource{m: m, ctx: ctx}, nil
}

type persistingSource struct {
	m   *Manager
	ctx context.Context
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok := s.m.store.Token()
	if tok == nil {
		return nil, ErrNotAuthorized
	}
	if tok.Valid() {
		return tok, nil
	}

	s.m.refreshMu.Lock()
	defer s.m.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	tok = s.m.store.Token()
	if tok.Valid() {
		return tok, nil
	}

	fresh, err := s.m.conf.TokenSource(s.ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if fresh.AccessToken != tok.AccessToken {
		if err := s.m.store.Merge(fresh); err != nil {
			// The token is still usable for this process.
			s.m.logger.Error("failed to persist refreshed token", "error", err)
		}
		s.m.logger.Debug("refreshed access token", "expiry", fresh.Expiry)
	}
	return s.m.store.Token(), nil
}
