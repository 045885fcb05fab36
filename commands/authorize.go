package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ccfrost/guestdrive/internal/config"
	"github.com/google/uuid"
)

// AuthURL returns the consent screen URL for the configured OAuth client.
func AuthURL(cfg config.Config, logger *slog.Logger) (string, error) {
	m, err := newManager(cfg, logger)
	if err != nil {
		return "", err
	}
	if !m.Configured() {
		return "", fmt.Errorf("google.client_id and google.client_secret must be set")
	}
	return m.AuthCodeURL(uuid.NewString()), nil
}

// Authorize runs the authorization code flow on the terminal: it prints the
// consent URL, reads the code the user pastes back, and stores the token.
func Authorize(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if cfg.UsesEnvRefreshToken() {
		return fmt.Errorf("google.refresh_token is set; unset it to use the token file")
	}
	m, err := newManager(cfg, logger)
	if err != nil {
		return err
	}
	if !m.Configured() {
		return fmt.Errorf("google.client_id and google.client_secret must be set")
	}

	fmt.Fprintf(out, "Go to the following link in your browser then type the authorization code:\n%v\n", m.AuthCodeURL(uuid.NewString()))
	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || code == "") {
		return fmt.Errorf("unable to read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("empty authorization code")
	}

	if err := m.Exchange(ctx, code); err != nil {
		return err
	}
	fmt.Fprintf(out, "Token saved to %s\n", m.Store().Path())
	return nil
}
