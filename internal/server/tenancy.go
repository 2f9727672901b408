package server

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

type Tenant struct {
	ID     string
	Domain string
	Name   string
}

type TenancyResolver interface {
	ResolveTenant(ctx context.Context, hostname string) (Tenant, bool, error)
}

// TenantDirectory is the platform-plane view of tenants: listing for the
// operator console and existence checks for impersonation targets.
type TenantDirectory interface {
	ListTenants(ctx context.Context) ([]Tenant, error)
	TenantByID(ctx context.Context, tenantID string) (Tenant, bool, error)
}

type tenantsFile struct {
	Version int `yaml:"version"`
	Tenants []struct {
		ID     string `yaml:"id"`
		Name   string `yaml:"name"`
		Domain string `yaml:"domain"`
	} `yaml:"tenants"`
}

// StaticTenancy backs both resolver and directory from config/tenants.yaml.
// Also the deletion point in tests: removing a tenant makes a persisted
// impersonation target stale.
type StaticTenancy struct {
	mu       sync.Mutex
	byDomain map[string]Tenant
	byID     map[string]Tenant
}

func NewStaticTenancy(tenants []Tenant) *StaticTenancy {
	s := &StaticTenancy{
		byDomain: map[string]Tenant{},
		byID:     map[string]Tenant{},
	}
	for _, t := range tenants {
		s.byDomain[normalizeHostname(t.Domain)] = t
		s.byID[t.ID] = t
	}
	return s
}

func LoadStaticTenancy(path string) (*StaticTenancy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f tenantsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, errors.New("server: unsupported tenants file version")
	}
	tenants := make([]Tenant, 0, len(f.Tenants))
	for _, t := range f.Tenants {
		if t.ID == "" || t.Domain == "" {
			return nil, errors.New("server: tenant entry missing id or domain")
		}
		tenants = append(tenants, Tenant{ID: t.ID, Name: t.Name, Domain: t.Domain})
	}
	return NewStaticTenancy(tenants), nil
}

func (s *StaticTenancy) ResolveTenant(_ context.Context, hostname string) (Tenant, bool, error) {
	hostname = normalizeHostname(hostname)
	if hostname == "" {
		return Tenant{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byDomain[hostname]
	return t, ok, nil
}

func (s *StaticTenancy) ListTenants(_ context.Context) ([]Tenant, error) {
	s.mu.Lock()
	out := make([]Tenant, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *StaticTenancy) TenantByID(_ context.Context, tenantID string) (Tenant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[tenantID]
	return t, ok, nil
}

func (s *StaticTenancy) Remove(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[tenantID]
	if !ok {
		return
	}
	delete(s.byID, tenantID)
	delete(s.byDomain, normalizeHostname(t.Domain))
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type tenancyDBResolver struct {
	q     queryRower
	cache *lru.Cache[string, Tenant]
}

const tenancyCacheSize = 1024

func newTenancyDBResolver(pool *pgxpool.Pool) *tenancyDBResolver {
	cache, _ := lru.New[string, Tenant](tenancyCacheSize)
	return &tenancyDBResolver{q: pool, cache: cache}
}

func (r *tenancyDBResolver) ResolveTenant(ctx context.Context, hostname string) (Tenant, bool, error) {
	hostname = normalizeHostname(hostname)
	if hostname == "" {
		return Tenant{}, false, nil
	}
	if t, ok := r.cache.Get(hostname); ok {
		return t, true, nil
	}

	var t Tenant
	err := r.q.QueryRow(ctx, `
SELECT t.id::text, t.name
FROM iam.tenant_domains d
JOIN iam.tenants t ON t.id = d.tenant_id
WHERE d.hostname = $1
  AND t.is_active = true
LIMIT 1
`, hostname).Scan(&t.ID, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, false, nil
		}
		return Tenant{}, false, err
	}
	t.Domain = hostname
	r.cache.Add(hostname, t)
	return t, true, nil
}

func (r *tenancyDBResolver) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := r.q.Query(ctx, `
SELECT t.id::text, t.name, COALESCE(d.hostname, '')
FROM iam.tenants t
LEFT JOIN iam.tenant_domains d ON d.tenant_id = t.id
WHERE t.is_active = true
ORDER BY t.name;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Domain); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *tenancyDBResolver) TenantByID(ctx context.Context, tenantID string) (Tenant, bool, error) {
	var t Tenant
	err := r.q.QueryRow(ctx, `
SELECT t.id::text, t.name, COALESCE(d.hostname, '')
FROM iam.tenants t
LEFT JOIN iam.tenant_domains d ON d.tenant_id = t.id
WHERE t.id = $1
  AND t.is_active = true
LIMIT 1;
`, tenantID).Scan(&t.ID, &t.Name, &t.Domain)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, false, nil
		}
		return Tenant{}, false, err
	}
	return t, true, nil
}

func normalizeHostname(host string) string {
	host = strings.TrimSpace(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}
