// Package directory resolves servers, domains and the global configuration
// entry, and persists certificate attributes on them.
package directory

import (
	"context"
	"strconv"
)

// Attribute names shared with the directory schema.
const (
	AttrID                      = "zimbraId"
	AttrSSLCertificate          = "zimbraSSLCertificate"
	AttrSSLPrivateKey           = "zimbraSSLPrivateKey"
	AttrServiceHostname         = "zimbraServiceHostname"
	AttrRemoteManagementPort    = "zimbraRemoteManagementPort"
	AttrRemoteManagementUser    = "zimbraRemoteManagementUser"
	AttrRemoteManagementCommand = "zimbraRemoteManagementCommand"
	AttrDomainName              = "zimbraDomainName"
)

type Kind string

const (
	KindServer Kind = "server"
	KindDomain Kind = "domain"
	KindConfig Kind = "config"
)

type ServerBy int

const (
	ServerByID ServerBy = iota
	ServerByName
)

type DomainBy int

const (
	DomainByID DomainBy = iota
	DomainByName
)

// Entry is a directory object. Attrs holds single-valued attributes only.
type Entry struct {
	Kind  Kind              `yaml:"-" json:"kind"`
	ID    string            `yaml:"id" json:"id"`
	Name  string            `yaml:"name" json:"name"`
	DN    string            `yaml:"dn,omitempty" json:"-"`
	Attrs map[string]string `yaml:"attrs,omitempty" json:"-"`
}

// Attr returns the value of name or "" when unset.
func (e *Entry) Attr(name string) string {
	if e == nil || e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// AttrInt returns the integer value of name, or def when unset or malformed.
func (e *Entry) AttrInt(name string, def int) int {
	v, err := strconv.Atoi(e.Attr(name))
	if err != nil {
		return def
	}
	return v
}

// Hostname is the address the remote manager connects to.
func (e *Entry) Hostname() string {
	return e.Attr(AttrServiceHostname)
}

func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Attrs = make(map[string]string, len(e.Attrs))
	for k, v := range e.Attrs {
		c.Attrs[k] = v
	}
	return &c
}

// Store is the directory service as seen by the certificate manager.
// Lookups of unknown entries return an error wrapping errors.ErrNotFound.
type Store interface {
	GetServer(ctx context.Context, by ServerBy, key string) (*Entry, error)
	GetLocalServer(ctx context.Context) (*Entry, error)
	ListServers(ctx context.Context) ([]*Entry, error)
	GetDomain(ctx context.Context, by DomainBy, key string) (*Entry, error)
	ListDomains(ctx context.Context) ([]*Entry, error)
	GetConfig(ctx context.Context) (*Entry, error)
	ModifyAttributes(ctx context.Context, entry *Entry, attrs map[string]string) error
	// SSLPrivateKey returns the stored private key of entry, "" when none.
	SSLPrivateKey(ctx context.Context, entry *Entry) (string, error)
}
