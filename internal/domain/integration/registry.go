package integration

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registration pairs an adapter with its search metadata and resolved scope.
// The registry owns the adapter once registered; callers hold references only.
type Registration struct {
	Adapter  Adapter
	Metadata AdapterMetadata
	Scope    Scope
}

// AdapterQuery selects adapters by their denormalized metadata. Zero-valued
// fields match anything. Tags and Capabilities require every listed value to
// be present on the adapter.
type AdapterQuery struct {
	Type         SystemType
	Protocol     string
	Vendor       string
	Tags         []string
	Capabilities []string

	// Scope restricts the search to one catalog. A zero Scope resolves to
	// the ambient tenant, falling back to global.
	Scope Scope
	// IncludeGlobal also searches the global catalog when Scope resolves
	// to a tenant.
	IncludeGlobal bool
}

// catalog is one scope's adapter map plus the parallel id-set indexes that
// back findAdapters. Queried on every health tick and on pipeline assembly,
// so lookups must not rescan the primary map.
type catalog struct {
	entries      map[string]*Registration
	byType       map[SystemType]map[string]struct{}
	byProtocol   map[string]map[string]struct{}
	byVendor     map[string]map[string]struct{}
	byTag        map[string]map[string]struct{}
	byCapability map[string]map[string]struct{}
}

func newCatalog() *catalog {
	return &catalog{
		entries:      make(map[string]*Registration),
		byType:       make(map[SystemType]map[string]struct{}),
		byProtocol:   make(map[string]map[string]struct{}),
		byVendor:     make(map[string]map[string]struct{}),
		byTag:        make(map[string]map[string]struct{}),
		byCapability: make(map[string]map[string]struct{}),
	}
}

func indexAdd[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func indexDrop[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func (c *catalog) insert(reg *Registration) {
	id := reg.Metadata.ID
	c.entries[id] = reg
	indexAdd(c.byType, reg.Metadata.Type, id)
	if reg.Metadata.Protocol != "" {
		indexAdd(c.byProtocol, reg.Metadata.Protocol, id)
	}
	if reg.Metadata.Vendor != "" {
		indexAdd(c.byVendor, reg.Metadata.Vendor, id)
	}
	for _, tag := range reg.Metadata.Tags {
		indexAdd(c.byTag, tag, id)
	}
	for _, cap := range reg.Metadata.Capabilities {
		indexAdd(c.byCapability, cap, id)
	}
}

func (c *catalog) remove(id string) {
	reg, ok := c.entries[id]
	if !ok {
		return
	}
	delete(c.entries, id)
	indexDrop(c.byType, reg.Metadata.Type, id)
	if reg.Metadata.Protocol != "" {
		indexDrop(c.byProtocol, reg.Metadata.Protocol, id)
	}
	if reg.Metadata.Vendor != "" {
		indexDrop(c.byVendor, reg.Metadata.Vendor, id)
	}
	for _, tag := range reg.Metadata.Tags {
		indexDrop(c.byTag, tag, id)
	}
	for _, cap := range reg.Metadata.Capabilities {
		indexDrop(c.byCapability, cap, id)
	}
}

// find intersects the id-sets selected by each non-zero criterion. With no
// criteria it returns the whole catalog.
func (c *catalog) find(q AdapterQuery) []*Registration {
	var sets []map[string]struct{}
	if q.Type != "" {
		sets = append(sets, c.byType[q.Type])
	}
	if q.Protocol != "" {
		sets = append(sets, c.byProtocol[q.Protocol])
	}
	if q.Vendor != "" {
		sets = append(sets, c.byVendor[q.Vendor])
	}
	for _, tag := range q.Tags {
		sets = append(sets, c.byTag[tag])
	}
	for _, cap := range q.Capabilities {
		sets = append(sets, c.byCapability[cap])
	}

	if len(sets) == 0 {
		result := make([]*Registration, 0, len(c.entries))
		for _, reg := range c.entries {
			result = append(result, reg)
		}
		return result
	}

	// Intersect starting from the smallest set.
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })
	if len(sets[0]) == 0 {
		return nil
	}

	var result []*Registration
outer:
	for id := range sets[0] {
		for _, set := range sets[1:] {
			if _, ok := set[id]; !ok {
				continue outer
			}
		}
		result = append(result, c.entries[id])
	}
	return result
}

// Registry is the authoritative adapter catalog. Adapters live in the global
// catalog or in exactly one tenant catalog; the same id may exist once
// globally and once per tenant.
type Registry struct {
	mu      sync.RWMutex
	ambient TenantProvider
	global  *catalog
	tenants map[uuid.UUID]*catalog
}

// NewRegistry creates an empty registry. ambient supplies the tenant used
// when neither the caller nor the adapter config pins a scope; it may be nil.
func NewRegistry(ambient TenantProvider) *Registry {
	return &Registry{
		ambient: ambient,
		global:  newCatalog(),
		tenants: make(map[uuid.UUID]*catalog),
	}
}

// resolve applies the explicit > config > ambient precedence and falls back
// to the global scope.
func (r *Registry) resolve(scope Scope, cfg *IntegrationConfig) Scope {
	return ResolveScope(scope, cfg, r.ambient)
}

// catalogFor returns the catalog addressed by a resolved scope, optionally
// creating the tenant submap.
func (r *Registry) catalogFor(scope Scope, create bool) *catalog {
	tenantID, ok := scope.Tenant()
	if !ok {
		return r.global
	}
	c, exists := r.tenants[tenantID]
	if !exists && create {
		c = newCatalog()
		r.tenants[tenantID] = c
	}
	return c
}

// Register stores an adapter in the resolved scope, builds its metadata by
// layering overrides over config-derived defaults, and indexes it. Fails if
// the id is already taken in that scope.
func (r *Registry) Register(adapter Adapter, overrides *MetadataOverrides, scope Scope) (Registration, error) {
	if adapter == nil {
		return Registration{}, fmt.Errorf("%w: adapter cannot be nil", ErrInvalidConfig)
	}
	cfg := adapter.Config()
	if cfg == nil || cfg.ID == "" {
		return Registration{}, fmt.Errorf("%w: adapter has no id", ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := r.resolve(scope, cfg)
	c := r.catalogFor(resolved, true)
	if _, exists := c.entries[cfg.ID]; exists {
		return Registration{}, fmt.Errorf("%w: %q in scope %s", ErrDuplicateAdapter, cfg.ID, resolved)
	}

	reg := &Registration{
		Adapter:  adapter,
		Metadata: BuildMetadata(cfg, overrides, resolved),
		Scope:    resolved,
	}
	c.insert(reg)
	return *reg, nil
}

// Deregister removes an adapter from its scope's primary map and every
// index. An emptied tenant catalog is dropped.
func (r *Registry) Deregister(id string, scope Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := r.resolve(scope, nil)
	c := r.catalogFor(resolved, false)
	if c == nil {
		return fmt.Errorf("%w: %q in scope %s", ErrAdapterNotFound, id, resolved)
	}
	if _, exists := c.entries[id]; !exists {
		return fmt.Errorf("%w: %q in scope %s", ErrAdapterNotFound, id, resolved)
	}
	c.remove(id)
	if tenantID, ok := resolved.Tenant(); ok && len(c.entries) == 0 {
		delete(r.tenants, tenantID)
	}
	return nil
}

// GetAdapter looks an adapter up in the resolved scope.
func (r *Registry) GetAdapter(id string, scope Scope) (Adapter, bool) {
	reg, ok := r.GetRegistration(id, scope)
	if !ok {
		return nil, false
	}
	return reg.Adapter, true
}

// GetMetadata looks an adapter's metadata up in the resolved scope.
func (r *Registry) GetMetadata(id string, scope Scope) (AdapterMetadata, bool) {
	reg, ok := r.GetRegistration(id, scope)
	if !ok {
		return AdapterMetadata{}, false
	}
	return reg.Metadata, true
}

// GetRegistration looks up the full registration record.
func (r *Registry) GetRegistration(id string, scope Scope) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := r.catalogFor(r.resolve(scope, nil), false)
	if c == nil {
		return Registration{}, false
	}
	reg, ok := c.entries[id]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// GetAllAdapters unions the global catalog (when includeGlobal is set) with
// the catalog of the given scope. A zero scope defaults to the ambient
// tenant. Results are sorted by id, tenant entries after global ones.
func (r *Registry) GetAllAdapters(includeGlobal bool, scope Scope) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := r.resolve(scope, nil)
	var result []Registration
	if includeGlobal {
		result = appendSorted(result, r.global)
	}
	if tenantID, ok := resolved.Tenant(); ok {
		if c := r.tenants[tenantID]; c != nil {
			result = appendSorted(result, c)
		}
	} else if !includeGlobal {
		result = appendSorted(result, r.global)
	}
	return result
}

// Registrations returns every adapter across all scopes, global first, then
// tenants; deterministic order for iteration by the manager.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := appendSorted(nil, r.global)

	tenantIDs := make([]uuid.UUID, 0, len(r.tenants))
	for id := range r.tenants {
		tenantIDs = append(tenantIDs, id)
	}
	sort.Slice(tenantIDs, func(i, j int) bool {
		return tenantIDs[i].String() < tenantIDs[j].String()
	})
	for _, id := range tenantIDs {
		result = appendSorted(result, r.tenants[id])
	}
	return result
}

// FindAdapters intersects the secondary indexes for every criterion in the
// query. Tag and capability lists use AND semantics.
func (r *Registry) FindAdapters(q AdapterQuery) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := r.resolve(q.Scope, nil)
	var found []*Registration
	tenantID, tenantScoped := resolved.Tenant()
	if tenantScoped {
		if c := r.tenants[tenantID]; c != nil {
			found = c.find(q)
		}
		if q.IncludeGlobal {
			found = append(found, r.global.find(q)...)
		}
	} else {
		found = r.global.find(q)
	}

	result := make([]Registration, 0, len(found))
	for _, reg := range found {
		result = append(result, *reg)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Metadata.ID != result[j].Metadata.ID {
			return result[i].Metadata.ID < result[j].Metadata.ID
		}
		return result[i].Scope.String() < result[j].Scope.String()
	})
	return result
}

// Count returns the number of registered adapters across all scopes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.global.entries)
	for _, c := range r.tenants {
		n += len(c.entries)
	}
	return n
}

// Clear resets every catalog. Used only during reinitialization.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.global = newCatalog()
	r.tenants = make(map[uuid.UUID]*catalog)
}

func appendSorted(dst []Registration, c *catalog) []Registration {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		dst = append(dst, *c.entries[id])
	}
	return dst
}
