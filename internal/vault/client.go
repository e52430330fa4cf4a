package vault

import (
	"context"
)

// Client reads SSL private keys kept in a Vault KV v2 mount.
type Client interface {
	CheckConnection(ctx context.Context) error
	// PrivateKey returns the key stored for the directory entry of kind and
	// name. Missing secrets yield an error wrapping errors.ErrNotFound.
	PrivateKey(ctx context.Context, kind, name string) (string, error)
	InvalidateCache()
	Shutdown()
}
