// Package credentials abstracts the external credential store. Actual secret
// management (keychain, agent, prompt flows) is the CLI layer's business;
// the sync engine only ever asks for a token by service name.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Services known to the credential store.
const (
	ServiceUpBank = "up-bank"
	ServiceYNAB   = "ynab"
)

// ErrTokenMissing is returned when no token is stored for a service.
var ErrTokenMissing = errors.New("no token stored for service")

// Store provides bearer tokens per service.
type Store interface {
	HasToken(service string) bool
	Token(service string) (string, error)
}

// EnvStore reads tokens from the environment: UP_YNAB_SYNC_TOKEN_UP_BANK and
// UP_YNAB_SYNC_TOKEN_YNAB.
type EnvStore struct{}

func envVar(service string) string {
	name := strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
	return "UP_YNAB_SYNC_TOKEN_" + name
}

func (EnvStore) HasToken(service string) bool {
	value, ok := os.LookupEnv(envVar(service))
	return ok && value != ""
}

func (EnvStore) Token(service string) (string, error) {
	value, ok := os.LookupEnv(envVar(service))
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s (set %s)", ErrTokenMissing, service, envVar(service))
	}

	return value, nil
}
