package vault

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"certd/config"
	"certd/internal/cache"
	certderrors "certd/internal/errors"
)

const privateKeyField = "private_key"

type realClient struct {
	client   *api.Client
	mount    string
	prefix   string
	addr     string
	cache    *cache.Cache
	stopChan chan struct{}
}

func NewClientFromConfig(cfg config.VaultConfig) (Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("vault address is empty")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token is empty")
	}

	clientConfig := api.DefaultConfig()
	if clientConfig == nil {
		return nil, fmt.Errorf("failed to create default Vault config")
	}

	clientConfig.Address = cfg.Addr
	if err := clientConfig.ConfigureTLS(&api.TLSConfig{
		Insecure: cfg.TLSInsecure,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
	}

	apiClient, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	apiClient.SetToken(cfg.Token)

	c := newRealClient(apiClient, cfg.KVMount, cfg.PathPrefix, cfg.Addr)
	go c.cleanupLoop(time.Minute)
	return c, nil
}

func newRealClient(apiClient *api.Client, mount, prefix, addr string) *realClient {
	return &realClient{
		client:   apiClient,
		mount:    strings.Trim(mount, "/"),
		prefix:   strings.Trim(prefix, "/"),
		addr:     addr,
		cache:    cache.New(time.Minute),
		stopChan: make(chan struct{}),
	}
}

func (c *realClient) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cache.Cleanup()
		case <-c.stopChan:
			return
		}
	}
}

// CheckConnection verifies Vault availability and seal status.
func (c *realClient) CheckConnection(ctx context.Context) error {
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health == nil {
		return fmt.Errorf("vault health response is nil")
	}
	if !health.Initialized {
		return fmt.Errorf("vault is not initialized")
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// Shutdown stops background goroutines.
func (c *realClient) Shutdown() {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
}

func (c *realClient) InvalidateCache() {
	c.cache.Clear()
}

func (c *realClient) secretPath(kind, name string) string {
	return path.Join(c.prefix, kind, name)
}

func (c *realClient) PrivateKey(ctx context.Context, kind, name string) (string, error) {
	secretPath := c.secretPath(kind, name)
	if cached, found := c.cache.Get(secretPath); found {
		if key, ok := cached.(string); ok {
			return key, nil
		}
	}

	secret, err := c.client.KVv2(c.mount).Get(ctx, secretPath)
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: vault secret %s/%s", certderrors.ErrNotFound, c.mount, secretPath)
		}
		return "", fmt.Errorf("failed to read vault secret %s/%s: %w", c.mount, secretPath, err)
	}
	raw, ok := secret.Data[privateKeyField]
	if !ok {
		return "", fmt.Errorf("%w: vault secret %s/%s has no %s", certderrors.ErrNotFound, c.mount, secretPath, privateKeyField)
	}
	key, ok := raw.(string)
	if !ok || strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: vault secret %s/%s has an empty %s", certderrors.ErrNotFound, c.mount, secretPath, privateKeyField)
	}
	c.cache.Set(secretPath, key)
	return key, nil
}
