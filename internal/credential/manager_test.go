package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ccfrost/guestdrive/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeTokenServer struct {
	*httptest.Server
	refreshes atomic.Int32
	exchanges atomic.Int32
}

func newFakeTokenServer(t *testing.T) *fakeTokenServer {
	f := &fakeTokenServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"token_type": "Bearer", "expires_in": 3600}
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code") != "good-code" {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
			f.exchanges.Add(1)
			resp["access_token"] = "exchanged-access"
			resp["refresh_token"] = "exchanged-refresh"
		case "refresh_token":
			n := f.refreshes.Add(1)
			resp["access_token"] = "refreshed-access-" + string(rune('0'+n))
		default:
			http.Error(w, "unsupported grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTokenServer) options(tokenFile string) Options {
	return Options{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:4000/auth/google/callback",
		TokenFile:    tokenFile,
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.URL + "/auth",
			TokenURL: f.URL + "/token",
		},
	}
}

func TestManager_AuthCodeURL(t *testing.T) {
	m, err := NewManager(Options{ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://localhost/cb", TokenFile: filepath.Join(t.TempDir(), "t.json")})
	require.NoError(t, err)

	u, err := url.Parse(m.AuthCodeURL("state-123"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "https://www.googleapis.com/auth/drive.file", q.Get("scope"))
	assert.Equal(t, "cid", q.Get("client_id"))
}

func TestManager_UninitializedIsNotAuthorized(t *testing.T) {
	f := newFakeTokenServer(t)
	m, err := NewManager(f.options(filepath.Join(t.TempDir(), "tokens.json")))
	require.NoError(t, err)

	assert.True(t, m.Configured())
	assert.Equal(t, Uninitialized, m.State())
	_, err = m.TokenSource(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestManager_NotConfigured(t *testing.T) {
	m, err := NewManager(Options{TokenFile: filepath.Join(t.TempDir(), "tokens.json")})
	require.NoError(t, err)

	assert.False(t, m.Configured())
	_, err = m.TokenSource(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
	err = m.Exchange(context.Background(), "code")
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestManager_ExchangePersists(t *testing.T) {
	f := newFakeTokenServer(t)
	path := filepath.Join(t.TempDir(), "tokens.json")
	m, err := NewManager(f.options(path))
	require.NoError(t, err)

	require.NoError(t, m.Exchange(context.Background(), "good-code"))
	assert.Equal(t, Loaded, m.State())

	onDisk := readTokenFile(t, path)
	assert.Equal(t, "exchanged-access", onDisk.AccessToken)
	assert.Equal(t, "exchanged-refresh", onDisk.RefreshToken)

	ts, err := m.TokenSource(context.Background())
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "exchanged-access", tok.AccessToken)
	assert.Zero(t, f.refreshes.Load())
}

func TestManager_ExchangeFailure(t *testing.T) {
	f := newFakeTokenServer(t)
	path := filepath.Join(t.TempDir(), "tokens.json")
	m, err := NewManager(f.options(path))
	require.NoError(t, err)

	err = m.Exchange(context.Background(), "bad-code")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindProvider))
	assert.Equal(t, Uninitialized, m.State())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestManager_RefreshMergesAndPersists(t *testing.T) {
	f := newFakeTokenServer(t)
	path := filepath.Join(t.TempDir(), "tokens.json")
	expired := &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "saved-refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	}
	require.NoError(t, NewStore(path, nil).Set(expired))

	m, err := NewManager(f.options(path))
	require.NoError(t, err)
	assert.Equal(t, Loaded, m.State())

	ts, err := m.TokenSource(context.Background())
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access-1", tok.AccessToken)
	assert.Equal(t, Refreshed, m.State())

	onDisk := readTokenFile(t, path)
	assert.Equal(t, "refreshed-access-1", onDisk.AccessToken)
	assert.Equal(t, "saved-refresh", onDisk.RefreshToken)

	// Still valid, so no second refresh.
	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.refreshes.Load())
}

func TestManager_EnvRefreshTokenTakesPrecedence(t *testing.T) {
	f := newFakeTokenServer(t)
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, NewStore(path, nil).Set(&oauth2.Token{AccessToken: "from-file", Expiry: time.Now().Add(time.Hour)}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	opts := f.options(path)
	opts.RefreshToken = "env-refresh"
	m, err := NewManager(opts)
	require.NoError(t, err)
	assert.Equal(t, Loaded, m.State())

	ts, err := m.TokenSource(context.Background())
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access-1", tok.AccessToken)
	assert.Equal(t, "env-refresh", tok.RefreshToken)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "env mode must not touch the token file")
}
