package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tallyhq/tally/pkg/cryptox"
	"github.com/tallyhq/tally/pkg/jwtx"
)

// initSigner loads the Ed25519 signing key from the configured path, or
// generates an ephemeral one when no path is set. Ephemeral mode means
// every outstanding token dies with the process; fine for development,
// set AUTH_SIGNING_KEY_PATH in production.
func initSigner(cfg Config, logger *slog.Logger) (*jwtx.Signer, error) {
	var pemKey []byte

	if cfg.SigningKeyPath != "" {
		data, err := os.ReadFile(cfg.SigningKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		pemKey = data
		logger.Info("signing key loaded", "path", cfg.SigningKeyPath)
	} else {
		data, err := cryptox.GenerateEd25519Key()
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		pemKey = data
		logger.Warn("using ephemeral signing key; tokens will not survive restarts")
	}

	kid := cryptox.MustGenerateToken(8)
	signer, err := jwtx.NewSigner(kid, pemKey)
	if err != nil {
		return nil, fmt.Errorf("initialize signer: %w", err)
	}
	return signer, nil
}
