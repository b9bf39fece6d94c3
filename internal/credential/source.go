// Package credential resolves provider API keys from one of three key
// sources: an organization's own key, an application key, or the platform key.
package credential

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/scraping-service/pkg/keyservice"
)

// Source is the closed set of key sources. Only types in this package
// implement it.
type Source interface {
	// Kind returns the wire name of the source ("byok", "app", "platform").
	Kind() string
	validate() error
	lookup(provider string) keyservice.Lookup
}

// Source kinds as accepted on the wire.
const (
	KindBYOK     = "byok"
	KindApp      = "app"
	KindPlatform = "platform"
)

// BYOK selects the organization's own key.
type BYOK struct {
	OrgID string
}

// App selects an application-level shared key.
type App struct {
	AppID string
}

// Platform selects the platform default key.
type Platform struct{}

func (BYOK) Kind() string     { return KindBYOK }
func (App) Kind() string      { return KindApp }
func (Platform) Kind() string { return KindPlatform }

func (s BYOK) validate() error {
	if s.OrgID == "" {
		return eris.Wrap(ErrMissingParameter, "credential: byok requires orgId")
	}
	return nil
}

func (s App) validate() error {
	if s.AppID == "" {
		return eris.Wrap(ErrMissingParameter, "credential: app requires appId")
	}
	return nil
}

func (Platform) validate() error { return nil }

func (s BYOK) lookup(provider string) keyservice.Lookup {
	return keyservice.Lookup{Provider: provider, Scope: keyservice.ScopeOrg, OrgID: s.OrgID}
}

func (s App) lookup(provider string) keyservice.Lookup {
	return keyservice.Lookup{Provider: provider, Scope: keyservice.ScopeApp, AppID: s.AppID}
}

func (Platform) lookup(provider string) keyservice.Lookup {
	return keyservice.Lookup{Provider: provider, Scope: keyservice.ScopePlatform}
}

// ParseSource builds a Source from request fields. An empty kind defaults to
// byok.
func ParseSource(kind, orgID, appID string) (Source, error) {
	switch kind {
	case "", KindBYOK:
		return BYOK{OrgID: orgID}, nil
	case KindApp:
		return App{AppID: appID}, nil
	case KindPlatform:
		return Platform{}, nil
	default:
		return nil, eris.Errorf("credential: unknown key source %q", kind)
	}
}
