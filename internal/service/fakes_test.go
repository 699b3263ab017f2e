package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"storefront-catalog/internal/domain"
	"storefront-catalog/internal/events"
	"storefront-catalog/internal/repository"

	"github.com/google/uuid"
)

// memCatalog is an in-memory CatalogRepository. Reads hand out deep copies so
// services only change state through Save* and Set*.
type memCatalog struct {
	mains []*domain.MainCategory
	// err, when set, is returned by every call
	err error
	// lockedLoads counts LoadSubcategoryTree calls with forUpdate
	lockedLoads int
}

func (m *memCatalog) main(name string) *domain.MainCategory {
	for _, mc := range m.mains {
		if mc.Name == name {
			return mc
		}
	}
	return nil
}

func (m *memCatalog) category(key domain.CategoryKey) *domain.Category {
	mc := m.main(key.Main)
	if mc == nil {
		return nil
	}
	for _, c := range mc.Categories {
		if c.Name == key.Category {
			return c
		}
	}
	return nil
}

func (m *memCatalog) subcategory(key domain.SubcategoryKey) *domain.Subcategory {
	c := m.category(key.Parent())
	if c == nil {
		return nil
	}
	for _, s := range c.Subcategories {
		if s.Name == key.Subcategory {
			return s
		}
	}
	return nil
}

func (m *memCatalog) FindMainCategory(ctx context.Context, name string) (*domain.MainCategory, error) {
	if m.err != nil {
		return nil, m.err
	}
	mc := m.main(name)
	if mc == nil {
		return nil, fmt.Errorf("%w: main category %q", domain.ErrNotFound, name)
	}
	return &domain.MainCategory{Name: mc.Name, State: mc.State, Categories: []*domain.Category{}}, nil
}

func (m *memCatalog) FindCategory(ctx context.Context, key domain.CategoryKey) (*domain.Category, error) {
	if m.err != nil {
		return nil, m.err
	}
	c := m.category(key)
	if c == nil {
		return nil, fmt.Errorf("%w: category %s", domain.ErrNotFound, key)
	}
	out := domain.NewCategory(key)
	out.State = c.State
	return out, nil
}

func (m *memCatalog) FindSubcategory(ctx context.Context, key domain.SubcategoryKey) (*domain.Subcategory, error) {
	if m.err != nil {
		return nil, m.err
	}
	s := m.subcategory(key)
	if s == nil {
		return nil, fmt.Errorf("%w: subcategory %s", domain.ErrNotFound, key)
	}
	out := domain.NewSubcategory(key)
	out.State = s.State
	return out, nil
}

func (m *memCatalog) InsertMainCategory(ctx context.Context, name string) error {
	if m.err != nil {
		return m.err
	}
	if m.main(name) != nil {
		return fmt.Errorf("%w: main category %q", domain.ErrConflict, name)
	}
	m.mains = append(m.mains, &domain.MainCategory{Name: name, Categories: []*domain.Category{}})
	return nil
}

func (m *memCatalog) InsertCategory(ctx context.Context, key domain.CategoryKey) error {
	if m.err != nil {
		return m.err
	}
	mc := m.main(key.Main)
	if mc == nil {
		return fmt.Errorf("%w: main category %q", domain.ErrNotFound, key.Main)
	}
	if m.category(key) != nil {
		return fmt.Errorf("%w: category %s", domain.ErrConflict, key)
	}
	mc.Categories = append(mc.Categories, domain.NewCategory(key))
	return nil
}

func (m *memCatalog) InsertSubcategory(ctx context.Context, key domain.SubcategoryKey) error {
	if m.err != nil {
		return m.err
	}
	c := m.category(key.Parent())
	if c == nil {
		return fmt.Errorf("%w: category %s", domain.ErrNotFound, key.Parent())
	}
	if m.subcategory(key) != nil {
		return fmt.Errorf("%w: subcategory %s", domain.ErrConflict, key)
	}
	c.Subcategories = append(c.Subcategories, domain.NewSubcategory(key))
	return nil
}

func (m *memCatalog) SetMainCategoryState(ctx context.Context, name string, state domain.Lifecycle) error {
	if m.err != nil {
		return m.err
	}
	m.main(name).State = state
	return nil
}

func (m *memCatalog) SetCategoryState(ctx context.Context, key domain.CategoryKey, state domain.Lifecycle) error {
	if m.err != nil {
		return m.err
	}
	m.category(key).State = state
	return nil
}

func (m *memCatalog) SetSubcategoryState(ctx context.Context, key domain.SubcategoryKey, state domain.Lifecycle) error {
	if m.err != nil {
		return m.err
	}
	m.subcategory(key).State = state
	return nil
}

func (m *memCatalog) LoadMainCategoryTree(ctx context.Context, name string) (*domain.MainCategory, error) {
	if m.err != nil {
		return nil, m.err
	}
	mc := m.main(name)
	if mc == nil {
		return nil, fmt.Errorf("%w: main category %q", domain.ErrNotFound, name)
	}
	return cloneMain(mc), nil
}

func (m *memCatalog) LoadCategoryTree(ctx context.Context, key domain.CategoryKey) (*domain.Category, error) {
	if m.err != nil {
		return nil, m.err
	}
	c := m.category(key)
	if c == nil {
		return nil, fmt.Errorf("%w: category %s", domain.ErrNotFound, key)
	}
	return cloneCategory(c), nil
}

func (m *memCatalog) LoadSubcategoryTree(ctx context.Context, key domain.SubcategoryKey, forUpdate bool) (*domain.Subcategory, error) {
	if m.err != nil {
		return nil, m.err
	}
	if forUpdate {
		m.lockedLoads++
	}
	s := m.subcategory(key)
	if s == nil {
		return nil, fmt.Errorf("%w: subcategory %s", domain.ErrNotFound, key)
	}
	return cloneSubcategory(s), nil
}

func (m *memCatalog) ReadSubcategory(ctx context.Context, key domain.SubcategoryKey, includeDeleted bool) (*domain.Subcategory, error) {
	if m.err != nil {
		return nil, m.err
	}
	s := m.subcategory(key)
	if s == nil || (!includeDeleted && s.State.IsDeleted()) {
		return nil, fmt.Errorf("%w: subcategory %s", domain.ErrNotFound, key)
	}
	return cloneSubcategory(s), nil
}

func (m *memCatalog) SaveMainCategoryTree(ctx context.Context, mc *domain.MainCategory) error {
	if m.err != nil {
		return m.err
	}
	for i, existing := range m.mains {
		if existing.Name == mc.Name {
			m.mains[i] = cloneMain(mc)
			return nil
		}
	}
	return fmt.Errorf("%w: main category %q", domain.ErrNotFound, mc.Name)
}

func (m *memCatalog) SaveCategoryTree(ctx context.Context, c *domain.Category) error {
	if m.err != nil {
		return m.err
	}
	mc := m.main(c.Key.Main)
	for i, existing := range mc.Categories {
		if existing.Name == c.Name {
			mc.Categories[i] = cloneCategory(c)
			return nil
		}
	}
	return fmt.Errorf("%w: category %s", domain.ErrNotFound, c.Key)
}

func (m *memCatalog) SaveSubcategoryTree(ctx context.Context, s *domain.Subcategory) error {
	if m.err != nil {
		return m.err
	}
	c := m.category(s.Key.Parent())
	for i, existing := range c.Subcategories {
		if existing.Name == s.Name {
			c.Subcategories[i] = cloneSubcategory(s)
			return nil
		}
	}
	return fmt.Errorf("%w: subcategory %s", domain.ErrNotFound, s.Key)
}

func (m *memCatalog) ListTree(ctx context.Context, includeDeleted bool) ([]*domain.MainCategory, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []*domain.MainCategory{}
	for _, mc := range m.mains {
		if !includeDeleted && mc.State.IsDeleted() {
			continue
		}
		out = append(out, cloneMain(mc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func cloneMain(m *domain.MainCategory) *domain.MainCategory {
	out := &domain.MainCategory{Name: m.Name, State: m.State, Categories: []*domain.Category{}}
	for _, c := range m.Categories {
		out.Categories = append(out.Categories, cloneCategory(c))
	}
	return out
}

func cloneCategory(c *domain.Category) *domain.Category {
	out := &domain.Category{Key: c.Key, Name: c.Name, State: c.State, Subcategories: []*domain.Subcategory{}}
	for _, s := range c.Subcategories {
		out.Subcategories = append(out.Subcategories, cloneSubcategory(s))
	}
	return out
}

func cloneSubcategory(s *domain.Subcategory) *domain.Subcategory {
	out := domain.NewSubcategory(s.Key)
	out.Name = s.Name
	out.State = s.State
	for _, o := range s.OpenSpecifications {
		oc := *o
		out.OpenSpecifications = append(out.OpenSpecifications, &oc)
	}
	for _, c := range s.ClosedSpecifications {
		cc := &domain.ClosedSpecification{Name: c.Name, State: c.State, Values: []*domain.ClosedSpecificationValue{}}
		for _, v := range c.Values {
			vc := *v
			cc.Values = append(cc.Values, &vc)
		}
		if c.Filter != nil {
			f := *c.Filter
			cc.Filter = &f
		}
		out.ClosedSpecifications = append(out.ClosedSpecifications, cc)
	}
	return out
}

// memProducts is an in-memory ProductRepository.
type memProducts struct {
	products map[uuid.UUID]*domain.Product
	versions map[uuid.UUID][]*domain.ProductVersion
	err      error
}

func newMemProducts() *memProducts {
	return &memProducts{
		products: map[uuid.UUID]*domain.Product{},
		versions: map[uuid.UUID][]*domain.ProductVersion{},
	}
}

func (m *memProducts) Create(ctx context.Context, product *domain.Product) error {
	if m.err != nil {
		return m.err
	}
	p := *product
	m.products[p.ID] = &p
	return nil
}

func (m *memProducts) SetState(ctx context.Context, id uuid.UUID, state domain.Lifecycle) error {
	if m.err != nil {
		return m.err
	}
	p, ok := m.products[id]
	if !ok {
		return fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	p.State = state
	return nil
}

func (m *memProducts) FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	out := *p
	if vs := m.versions[id]; len(vs) > 0 {
		latest := *vs[len(vs)-1]
		out.Latest = &latest
	}
	return &out, nil
}

func (m *memProducts) AppendVersion(ctx context.Context, version *domain.ProductVersion) error {
	if m.err != nil {
		return m.err
	}
	vs := m.versions[version.ProductID]
	if len(vs) > 0 && vs[len(vs)-1].Version >= version.Version {
		return fmt.Errorf("%w: version %d of %s", domain.ErrConflict, version.Version, version.ProductID)
	}
	v := *version
	m.versions[version.ProductID] = append(vs, &v)
	return nil
}

func (m *memProducts) ListVersions(ctx context.Context, id uuid.UUID) ([]*domain.ProductVersion, error) {
	if m.err != nil {
		return nil, m.err
	}
	vs := m.versions[id]
	out := make([]*domain.ProductVersion, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		out = append(out, vs[i])
	}
	return out, nil
}

func (m *memProducts) ListBySubcategory(ctx context.Context, key domain.SubcategoryKey, includeDeleted bool) ([]*domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []*domain.Product{}
	for id, p := range m.products {
		if p.Subcategory != key || (!includeDeleted && p.State.IsDeleted()) {
			continue
		}
		found, _ := m.FindByID(ctx, id, false)
		out = append(out, found)
	}
	return out, nil
}

// fakeTx runs fn against the in-memory repositories and restores the catalog
// snapshot when fn fails.
type fakeTx struct {
	catalog  *memCatalog
	products *memProducts
	runs     int
}

func (f *fakeTx) Run(ctx context.Context, fn func(repos repository.Repositories) error) error {
	f.runs++
	snapshot := make([]*domain.MainCategory, 0, len(f.catalog.mains))
	for _, m := range f.catalog.mains {
		snapshot = append(snapshot, cloneMain(m))
	}

	if err := fn(repository.Repositories{Catalog: f.catalog, Products: f.products}); err != nil {
		f.catalog.mains = snapshot
		return err
	}
	return nil
}

// fakeCache is an in-memory CatalogCache.
type fakeCache struct {
	tree          []*domain.MainCategory
	subcategories map[domain.SubcategoryKey]*domain.Subcategory
	invalidations int
}

func newFakeCache() *fakeCache {
	return &fakeCache{subcategories: map[domain.SubcategoryKey]*domain.Subcategory{}}
}

func (c *fakeCache) GetTree(ctx context.Context) ([]*domain.MainCategory, bool) {
	return c.tree, c.tree != nil
}

func (c *fakeCache) SetTree(ctx context.Context, tree []*domain.MainCategory) {
	c.tree = tree
}

func (c *fakeCache) GetSubcategory(ctx context.Context, key domain.SubcategoryKey) (*domain.Subcategory, bool) {
	s, ok := c.subcategories[key]
	return s, ok
}

func (c *fakeCache) SetSubcategory(ctx context.Context, key domain.SubcategoryKey, s *domain.Subcategory) {
	c.subcategories[key] = s
}

func (c *fakeCache) Invalidate(ctx context.Context) {
	c.invalidations++
	c.tree = nil
	c.subcategories = map[domain.SubcategoryKey]*domain.Subcategory{}
}

// recordingPublisher keeps every published event and fails with err when set.
type recordingPublisher struct {
	events []events.CatalogEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.CatalogEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeImageStore returns a deterministic URL per public ID.
type fakeImageStore struct {
	uploads []string
	err     error
}

func (s *fakeImageStore) Upload(ctx context.Context, filename string, file io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if _, err := io.ReadAll(file); err != nil {
		return "", err
	}
	s.uploads = append(s.uploads, filename)
	return "https://res.cloudinary.com/demo/image/upload/" + filename + ".png", nil
}

var errConnectionReset = errors.New("connection reset by peer")

// seedCatalog builds Home/Kitchen/Pans with one open and one closed specification.
func seedCatalog() *memCatalog {
	key := domain.SubcategoryKey{Main: "Home", Category: "Kitchen", Subcategory: "Pans"}
	pans := domain.NewSubcategory(key)
	pans.OpenSpecifications = []*domain.OpenSpecification{{Name: "Material"}}
	pans.ClosedSpecifications = []*domain.ClosedSpecification{{
		Name: "Size",
		Values: []*domain.ClosedSpecificationValue{
			{Value: "24cm"},
			{Value: "28cm"},
		},
		Filter: &domain.Filter{Title: "Size"},
	}}

	kitchen := domain.NewCategory(key.Parent())
	kitchen.Subcategories = []*domain.Subcategory{pans}

	return &memCatalog{mains: []*domain.MainCategory{{
		Name:       "Home",
		Categories: []*domain.Category{kitchen},
	}}}
}
