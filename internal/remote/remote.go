// Package remote publishes and fetches snapshot graphs through an OCI
// registry. A solution's encoded nodes are packed into zstd image layers
// and the root checksum travels as a config label, so any registry that
// speaks the OCI distribution spec can act as the asset source between a
// host and its workers.
package remote

import (
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// Authenticator provides credentials for a registry.
type Authenticator interface {
	// Authenticate returns credentials for the given registry host.
	Authenticate(registry string) (username, password string, err error)
}

// authOptions builds remote options for the given registry host, falling back
// to the system keychain (like Docker) when no explicit credentials exist.
func authOptions(auth Authenticator, registry string) []remote.Option {
	if auth != nil {
		username, password, err := auth.Authenticate(registry)
		if err == nil && username != "" {
			return []remote.Option{remote.WithAuth(&authn.Basic{
				Username: username,
				Password: password,
			})}
		}
	}
	return []remote.Option{remote.WithAuthFromKeychain(authn.DefaultKeychain)}
}
