package vault

import (
	"context"
	"errors"

	"certd/internal/directory"
	certderrors "certd/internal/errors"
	"certd/internal/logger"
)

// KeyOverlay serves SSL private keys from Vault and falls back to the
// wrapped directory store when Vault holds no key for an entry.
type KeyOverlay struct {
	directory.Store
	client Client
}

func NewKeyOverlay(store directory.Store, client Client) *KeyOverlay {
	return &KeyOverlay{Store: store, client: client}
}

func (o *KeyOverlay) SSLPrivateKey(ctx context.Context, entry *directory.Entry) (string, error) {
	key, err := o.client.PrivateKey(ctx, string(entry.Kind), entry.Name)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, certderrors.ErrNotFound):
		logger.Get().Debug().Str("kind", string(entry.Kind)).Str("name", entry.Name).
			Msg("no private key in vault, using directory")
		return o.Store.SSLPrivateKey(ctx, entry)
	default:
		return "", err
	}
}
