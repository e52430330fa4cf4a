package rights

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"certd/internal/directory"
	certderrors "certd/internal/errors"
	"certd/internal/logger"
)

// Grant gives Right on Target. Target is "*", "config", or "<kind>:<name>"
// such as "server:mail1.example.com" or "domain:example.com".
type Grant struct {
	Right  Right  `yaml:"right"`
	Target string `yaml:"target"`
}

// Account is an administrator. Global admins hold every right everywhere.
type Account struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	PasswordHash string  `yaml:"password_hash"`
	GlobalAdmin  bool    `yaml:"global_admin"`
	Grants       []Grant `yaml:"grants"`
}

type aclFile struct {
	Accounts []Account `yaml:"accounts"`
}

// ACL authenticates accounts and checks grants.
type ACL struct {
	byID   map[string]*Account
	byName map[string]*Account
}

func NewACL(accounts []Account) (*ACL, error) {
	acl := &ACL{byID: make(map[string]*Account), byName: make(map[string]*Account)}
	for i := range accounts {
		a := &accounts[i]
		if a.ID == "" || a.Name == "" {
			return nil, fmt.Errorf("%w: account entries need an id and a name", certderrors.ErrInvalidSettings)
		}
		if !isBcryptHash(a.PasswordHash) {
			return nil, fmt.Errorf("%w: account %s needs a bcrypt password_hash", certderrors.ErrInvalidSettings, a.Name)
		}
		if _, dup := acl.byID[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate account id %s", certderrors.ErrInvalidSettings, a.ID)
		}
		for _, g := range a.Grants {
			if !knownRight(g.Right) {
				return nil, fmt.Errorf("%w: account %s: unknown right %q", certderrors.ErrInvalidSettings, a.Name, g.Right)
			}
		}
		acl.byID[a.ID] = a
		acl.byName[strings.ToLower(a.Name)] = a
	}
	return acl, nil
}

// LoadACL reads accounts from a YAML file.
func LoadACL(path string) (*ACL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file %s: %w", path, err)
	}
	var file aclFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: accounts file %s: %v", certderrors.ErrInvalidSettings, path, err)
	}
	return NewACL(file.Accounts)
}

var dummyHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("certd"), bcrypt.DefaultCost)
	return hash
})

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func knownRight(r Right) bool {
	for _, k := range Known {
		if k == r {
			return true
		}
	}
	return false
}

// Authenticate verifies name and password and returns the caller.
func (a *ACL) Authenticate(name, password string) (Caller, error) {
	account, ok := a.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		// Spend the same time as a real comparison.
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return Caller{}, certderrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Caller{}, certderrors.ErrInvalidCredentials
	}
	return Caller{AccountID: account.ID, Name: account.Name}, nil
}

func targetKey(target *directory.Entry) string {
	if target.Kind == directory.KindConfig {
		return "config"
	}
	return string(target.Kind) + ":" + strings.ToLower(target.Name)
}

func (a *ACL) Check(_ context.Context, caller Caller, target *directory.Entry, right Right) error {
	account, ok := a.byID[caller.AccountID]
	if !ok {
		return fmt.Errorf("%w: unknown account %s", certderrors.ErrUnauthorized, caller.AccountID)
	}
	if account.GlobalAdmin {
		return nil
	}
	want := targetKey(target)
	for _, g := range account.Grants {
		if g.Right != right {
			continue
		}
		if g.Target == "*" || strings.ToLower(g.Target) == want {
			return nil
		}
	}
	logger.SecurityEvent("authorize").
		Str("account", account.Name).
		Str("right", string(right)).
		Str("target", want).
		Msg("permission denied")
	return fmt.Errorf("%w: %s needs %s on %s", certderrors.ErrUnauthorized, account.Name, right, want)
}
