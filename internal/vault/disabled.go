package vault

import (
	"context"
	"errors"
)

var ErrVaultNotConfigured = errors.New("vault is not configured")

type disabledClient struct{}

// NewDisabledClient returns a Client that reports Vault as unavailable.
func NewDisabledClient() Client {
	return &disabledClient{}
}

func (c *disabledClient) CheckConnection(_ context.Context) error {
	return ErrVaultNotConfigured
}

func (c *disabledClient) PrivateKey(_ context.Context, _, _ string) (string, error) {
	return "", ErrVaultNotConfigured
}

func (c *disabledClient) InvalidateCache() {
}

func (c *disabledClient) Shutdown() {
}
