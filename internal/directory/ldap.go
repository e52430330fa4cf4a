package directory

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-ldap/ldap/v3"

	certderrors "certd/internal/errors"
	"certd/internal/logger"
)

// LDAPConfig locates the directory tree.
type LDAPConfig struct {
	URL          string
	BindDN       string
	BindPassword string
	BaseDN       string
	LocalServer  string
}

// ldapConn is the subset of *ldap.Conn the store uses.
type ldapConn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Modify(req *ldap.ModifyRequest) error
	Close() error
}

var ldapAttributes = []string{
	AttrID, "cn", AttrDomainName,
	AttrServiceHostname,
	AttrSSLCertificate, AttrSSLPrivateKey,
	AttrRemoteManagementPort, AttrRemoteManagementUser, AttrRemoteManagementCommand,
}

// LDAPStore reads the directory over LDAP. A connection is opened per call.
type LDAPStore struct {
	cfg  LDAPConfig
	dial func() (ldapConn, error)
}

func NewLDAPStore(cfg LDAPConfig) *LDAPStore {
	s := &LDAPStore{cfg: cfg}
	s.dial = s.connect
	return s
}

func (s *LDAPStore) connect() (ldapConn, error) {
	conn, err := ldap.DialURL(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LDAP: %w", err)
	}
	if s.cfg.BindDN != "" {
		if err := conn.Bind(s.cfg.BindDN, s.cfg.BindPassword); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("LDAP bind failed: %w", err)
		}
	}
	return conn, nil
}

func (s *LDAPStore) withConn(fn func(ldapConn) error) error {
	conn, err := s.dial()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Get().Warn().Err(cerr).Msg("failed to close LDAP connection")
		}
	}()
	return fn(conn)
}

func (s *LDAPStore) search(base string, scope int, filter string) ([]*ldap.Entry, error) {
	var entries []*ldap.Entry
	err := s.withConn(func(conn ldapConn) error {
		req := ldap.NewSearchRequest(
			base, scope, ldap.NeverDerefAliases, 0, 0, false,
			filter, ldapAttributes, nil,
		)
		res, err := conn.Search(req)
		if err != nil {
			if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
				return nil
			}
			return fmt.Errorf("ldap search %s: %w", filter, err)
		}
		entries = res.Entries
		return nil
	})
	return entries, err
}

func (s *LDAPStore) serversBase() string { return "cn=servers," + s.cfg.BaseDN }
func (s *LDAPStore) configDN() string    { return "cn=config," + s.cfg.BaseDN }

func serverFilter(by ServerBy, key string) string {
	if by == ServerByID {
		return fmt.Sprintf("(&(objectClass=zimbraServer)(%s=%s))", AttrID, ldap.EscapeFilter(key))
	}
	return fmt.Sprintf("(&(objectClass=zimbraServer)(cn=%s))", ldap.EscapeFilter(key))
}

func domainFilter(by DomainBy, key string) string {
	if by == DomainByID {
		return fmt.Sprintf("(&(objectClass=zimbraDomain)(%s=%s))", AttrID, ldap.EscapeFilter(key))
	}
	return fmt.Sprintf("(&(objectClass=zimbraDomain)(%s=%s))", AttrDomainName, ldap.EscapeFilter(key))
}

func toEntry(kind Kind, le *ldap.Entry) *Entry {
	e := &Entry{Kind: kind, DN: le.DN, Attrs: make(map[string]string, len(le.Attributes))}
	for _, attr := range le.Attributes {
		if len(attr.Values) > 0 {
			e.Attrs[attr.Name] = attr.Values[0]
		}
	}
	e.ID = e.Attrs[AttrID]
	switch kind {
	case KindDomain:
		e.Name = e.Attrs[AttrDomainName]
	case KindConfig:
		e.ID, e.Name = "config", "globalconfig"
	default:
		e.Name = e.Attrs["cn"]
	}
	return e
}

func (s *LDAPStore) one(kind Kind, base, filter, key string) (*Entry, error) {
	entries, err := s.search(base, ldap.ScopeWholeSubtree, filter)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s %s", certderrors.ErrNotFound, kind, key)
	}
	return toEntry(kind, entries[0]), nil
}

func (s *LDAPStore) GetServer(_ context.Context, by ServerBy, key string) (*Entry, error) {
	return s.one(KindServer, s.serversBase(), serverFilter(by, key), key)
}

func (s *LDAPStore) GetLocalServer(ctx context.Context) (*Entry, error) {
	if s.cfg.LocalServer == "" {
		return nil, fmt.Errorf("%w: local server is not configured", certderrors.ErrNotFound)
	}
	return s.GetServer(ctx, ServerByName, s.cfg.LocalServer)
}

func (s *LDAPStore) ListServers(_ context.Context) ([]*Entry, error) {
	return s.list(KindServer, s.serversBase(), "(objectClass=zimbraServer)")
}

func (s *LDAPStore) GetDomain(_ context.Context, by DomainBy, key string) (*Entry, error) {
	return s.one(KindDomain, s.cfg.BaseDN, domainFilter(by, key), key)
}

func (s *LDAPStore) ListDomains(_ context.Context) ([]*Entry, error) {
	return s.list(KindDomain, s.cfg.BaseDN, "(objectClass=zimbraDomain)")
}

func (s *LDAPStore) list(kind Kind, base, filter string) ([]*Entry, error) {
	entries, err := s.search(base, ldap.ScopeWholeSubtree, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(entries))
	for _, le := range entries {
		out = append(out, toEntry(kind, le))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *LDAPStore) GetConfig(_ context.Context) (*Entry, error) {
	entries, err := s.search(s.configDN(), ldap.ScopeBaseObject, "(objectClass=*)")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: global config entry %s", certderrors.ErrNotFound, s.configDN())
	}
	return toEntry(KindConfig, entries[0]), nil
}

func (s *LDAPStore) ModifyAttributes(_ context.Context, entry *Entry, attrs map[string]string) error {
	if entry.DN == "" {
		return fmt.Errorf("%w: %s %s has no DN", certderrors.ErrIllegalState, entry.Kind, entry.ID)
	}
	req := ldap.NewModifyRequest(entry.DN, nil)
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.Replace(name, []string{attrs[name]})
	}
	err := s.withConn(func(conn ldapConn) error {
		return conn.Modify(req)
	})
	if err != nil {
		return fmt.Errorf("ldap modify %s: %w", entry.DN, err)
	}
	if entry.Attrs == nil {
		entry.Attrs = make(map[string]string, len(attrs))
	}
	for k, v := range attrs {
		entry.Attrs[k] = v
	}
	return nil
}

func (s *LDAPStore) SSLPrivateKey(_ context.Context, entry *Entry) (string, error) {
	return entry.Attr(AttrSSLPrivateKey), nil
}
