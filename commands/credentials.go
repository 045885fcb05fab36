package commands

import (
	"log/slog"
	"path/filepath"

	"github.com/ccfrost/guestdrive/internal/config"
	"github.com/ccfrost/guestdrive/internal/credential"
)

// newManager builds the credential manager. A relative token file lives next
// to the config file.
func newManager(cfg config.Config, logger *slog.Logger) (*credential.Manager, error) {
	return credential.NewManager(credential.Options{
		ClientID:     cfg.Google.ClientId,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURI,
		RefreshToken: cfg.Google.RefreshToken,
		TokenFile:    tokenFilePath(cfg),
		Logger:       logger,
	})
}

func tokenFilePath(cfg config.Config) string {
	p := cfg.TokenFile
	if p == "" {
		p = "tokens.json"
	}
	if filepath.IsAbs(p) || cfg.Path() == "" {
		return p
	}
	return filepath.Join(filepath.Dir(cfg.Path()), p)
}
