package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	certderrors "certd/internal/errors"
)

// Seed is the YAML layout of a memory directory file.
type Seed struct {
	LocalServer string            `yaml:"local_server"`
	Config      map[string]string `yaml:"config"`
	Servers     []*Entry          `yaml:"servers"`
	Domains     []*Entry          `yaml:"domains"`
}

// MemoryStore keeps the directory in memory. It backs single-host
// deployments and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	localServer string
	config      *Entry
	servers     map[string]*Entry
	domains     map[string]*Entry
}

// NewMemoryStore builds a store from seed. localServer overrides the seed's
// local_server when not empty.
func NewMemoryStore(seed Seed, localServer string) (*MemoryStore, error) {
	s := &MemoryStore{
		localServer: seed.LocalServer,
		config:      &Entry{Kind: KindConfig, ID: "config", Name: "globalconfig", Attrs: map[string]string{}},
		servers:     make(map[string]*Entry),
		domains:     make(map[string]*Entry),
	}
	if localServer != "" {
		s.localServer = localServer
	}
	for k, v := range seed.Config {
		s.config.Attrs[k] = v
	}
	for _, e := range seed.Servers {
		if err := s.add(s.servers, KindServer, e); err != nil {
			return nil, err
		}
	}
	for _, e := range seed.Domains {
		if err := s.add(s.domains, KindDomain, e); err != nil {
			return nil, err
		}
	}
	if s.localServer != "" {
		if _, ok := s.findByName(s.servers, s.localServer); !ok {
			return nil, fmt.Errorf("%w: local server %s is not in the directory", certderrors.ErrInvalidSettings, s.localServer)
		}
	}
	return s, nil
}

// LoadMemoryStore reads a YAML seed file.
func LoadMemoryStore(path, localServer string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory seed %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("%w: directory seed %s: %v", certderrors.ErrInvalidSettings, path, err)
	}
	return NewMemoryStore(seed, localServer)
}

func (s *MemoryStore) add(into map[string]*Entry, kind Kind, e *Entry) error {
	if e == nil || strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: %s entries need an id and a name", certderrors.ErrInvalidSettings, kind)
	}
	if _, dup := into[e.ID]; dup {
		return fmt.Errorf("%w: duplicate %s id %s", certderrors.ErrInvalidSettings, kind, e.ID)
	}
	c := e.clone()
	c.Kind = kind
	into[c.ID] = c
	return nil
}

func (s *MemoryStore) findByName(in map[string]*Entry, name string) (*Entry, bool) {
	for _, e := range in {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return nil, false
}

func (s *MemoryStore) GetServer(_ context.Context, by ServerBy, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		e  *Entry
		ok bool
	)
	switch by {
	case ServerByID:
		e, ok = s.servers[key]
	case ServerByName:
		e, ok = s.findByName(s.servers, key)
	}
	if !ok {
		return nil, fmt.Errorf("%w: server %s", certderrors.ErrNotFound, key)
	}
	return e.clone(), nil
}

func (s *MemoryStore) GetLocalServer(ctx context.Context) (*Entry, error) {
	if s.localServer == "" {
		return nil, fmt.Errorf("%w: local server is not configured", certderrors.ErrNotFound)
	}
	return s.GetServer(ctx, ServerByName, s.localServer)
}

func (s *MemoryStore) ListServers(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedClones(s.servers), nil
}

func (s *MemoryStore) GetDomain(_ context.Context, by DomainBy, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		e  *Entry
		ok bool
	)
	switch by {
	case DomainByID:
		e, ok = s.domains[key]
	case DomainByName:
		e, ok = s.findByName(s.domains, key)
	}
	if !ok {
		return nil, fmt.Errorf("%w: domain %s", certderrors.ErrNotFound, key)
	}
	return e.clone(), nil
}

func (s *MemoryStore) ListDomains(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedClones(s.domains), nil
}

func (s *MemoryStore) GetConfig(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.clone(), nil
}

func (s *MemoryStore) ModifyAttributes(_ context.Context, entry *Entry, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var target *Entry
	switch entry.Kind {
	case KindConfig:
		target = s.config
	case KindServer:
		target = s.servers[entry.ID]
	case KindDomain:
		target = s.domains[entry.ID]
	}
	if target == nil {
		return fmt.Errorf("%w: %s %s", certderrors.ErrNotFound, entry.Kind, entry.ID)
	}
	if target.Attrs == nil {
		target.Attrs = make(map[string]string, len(attrs))
	}
	if entry.Attrs == nil {
		entry.Attrs = make(map[string]string, len(attrs))
	}
	for k, v := range attrs {
		target.Attrs[k] = v
		entry.Attrs[k] = v
	}
	return nil
}

func (s *MemoryStore) SSLPrivateKey(_ context.Context, entry *Entry) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch entry.Kind {
	case KindConfig:
		return s.config.Attr(AttrSSLPrivateKey), nil
	case KindServer:
		return s.servers[entry.ID].Attr(AttrSSLPrivateKey), nil
	case KindDomain:
		return s.domains[entry.ID].Attr(AttrSSLPrivateKey), nil
	}
	return "", nil
}

func sortedClones(in map[string]*Entry) []*Entry {
	out := make([]*Entry, 0, len(in))
	for _, e := range in {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
