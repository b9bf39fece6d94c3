package credential

import (
	"context"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraping-service/pkg/keyservice"
)

var (
	// ErrMissingParameter is returned when the selected source lacks its
	// required identifier. No vault call is made.
	ErrMissingParameter = eris.New("credential: missing parameter")
	// ErrNotConfigured is returned when the vault has no key for the source.
	ErrNotConfigured = eris.New("credential: key not configured")
	// ErrServiceUnavailable is returned for any other vault failure.
	ErrServiceUnavailable = eris.New("credential: key service unavailable")
)

// Caller identifies the inbound operation for the vault audit log.
type Caller = keyservice.Caller

// Resolver looks up provider keys through the vault.
type Resolver struct {
	vault keyservice.Client
}

// NewResolver creates a Resolver backed by the given vault client.
func NewResolver(vault keyservice.Client) *Resolver {
	return &Resolver{vault: vault}
}

// Resolve returns the API key for provider from the given source.
func (r *Resolver) Resolve(ctx context.Context, provider string, source Source, caller Caller) (string, error) {
	if source == nil {
		return "", eris.Wrap(ErrMissingParameter, "credential: no key source")
	}
	if err := source.validate(); err != nil {
		return "", err
	}

	key, err := r.vault.Decrypt(ctx, source.lookup(provider), caller)
	if err != nil {
		var apiErr *keyservice.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return "", eris.Wrapf(ErrNotConfigured, "credential: %s key for %s", source.Kind(), provider)
		}
		zap.L().Warn("credential: key lookup failed",
			zap.String("provider", provider),
			zap.String("source", source.Kind()),
			zap.Error(err),
		)
		return "", eris.Wrapf(ErrServiceUnavailable, "credential: %s key for %s: %v", source.Kind(), provider, err)
	}
	return key.Key, nil
}
