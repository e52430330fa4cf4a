package config

import (
	"fmt"
	"path/filepath"
	"strings"

	certderrors "certd/internal/errors"
	"certd/internal/validation"
)

func (c Config) validate() error {
	if !filepath.IsAbs(c.CertMgr.ToolPath) {
		return fmt.Errorf("%w: certmgr tool path must be absolute, got %q", certderrors.ErrInvalidSettings, c.CertMgr.ToolPath)
	}
	if strings.TrimSpace(c.CertMgr.TempDir) == "" {
		return fmt.Errorf("%w: certmgr temp dir is empty", certderrors.ErrInvalidSettings)
	}
	switch c.Directory.Backend {
	case "memory":
		if strings.TrimSpace(c.Directory.SeedFile) == "" {
			return fmt.Errorf("%w: memory directory needs a seed file", certderrors.ErrInvalidSettings)
		}
	case "ldap":
		if err := validation.ValidateLDAPURL(c.Directory.LDAP.URL); err != nil {
			return fmt.Errorf("%w: ldap url %q", err, c.Directory.LDAP.URL)
		}
	default:
		return fmt.Errorf("%w: unknown directory backend %q", certderrors.ErrInvalidSettings, c.Directory.Backend)
	}
	if err := validation.ValidatePort(c.SSH.Port); err != nil {
		return fmt.Errorf("%w: ssh port %d", err, c.SSH.Port)
	}
	if c.SSH.CommandTimeout <= 0 {
		return fmt.Errorf("%w: ssh command timeout must be positive", certderrors.ErrInvalidSettings)
	}
	if c.Vault.Enabled {
		if err := validation.ValidateVaultAddress(c.Vault.Addr); err != nil {
			return fmt.Errorf("%w: vault address %q", err, c.Vault.Addr)
		}
		if strings.TrimSpace(c.Vault.Token) == "" {
			return fmt.Errorf("%w: vault token is empty", certderrors.ErrInvalidSettings)
		}
	}
	if c.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("%w: upload size limit must be positive", certderrors.ErrInvalidSettings)
	}
	return nil
}
