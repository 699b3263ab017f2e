package service

import (
	"context"
	"errors"
	"fmt"

	"storefront-catalog/internal/cache"
	"storefront-catalog/internal/domain"
	"storefront-catalog/internal/events"
	"storefront-catalog/internal/repository"

	"go.uber.org/zap"
)

// CategoryService defines the interface for category tree business logic.
// Employee reads include deleted entries, storefront reads never do.
type CategoryService interface {
	CreateMainCategory(ctx context.Context, name string) error
	CreateCategory(ctx context.Context, key domain.CategoryKey) error
	CreateSubcategory(ctx context.Context, key domain.SubcategoryKey) error

	DeleteMainCategory(ctx context.Context, name string) error
	DeleteCategory(ctx context.Context, key domain.CategoryKey) error
	DeleteSubcategory(ctx context.Context, key domain.SubcategoryKey) error

	UpdateSubcategory(ctx context.Context, key domain.SubcategoryKey, update domain.SubcategoryUpdate) (ReconcileResult, error)

	GetTree(ctx context.Context, includeDeleted bool) ([]*domain.MainCategory, error)
	GetSubcategory(ctx context.Context, key domain.SubcategoryKey, includeDeleted bool) (*domain.Subcategory, error)
}

type categoryService struct {
	tx      repository.TxRunner
	catalog repository.CatalogRepository
	cache   cache.CatalogCache
	events  events.Publisher
	logger  *zap.Logger
}

// NewCategoryService creates a new instance of CategoryService
func NewCategoryService(
	tx repository.TxRunner,
	catalog repository.CatalogRepository,
	catalogCache cache.CatalogCache,
	publisher events.Publisher,
	logger *zap.Logger,
) CategoryService {
	return &categoryService{
		tx:      tx,
		catalog: catalog,
		cache:   catalogCache,
		events:  publisher,
		logger:  logger.Named("category_service"),
	}
}

// CreateMainCategory inserts a main category or revives a deleted one.
func (s *categoryService) CreateMainCategory(ctx context.Context, name string) error {
	if err := domain.ValidateName(name); err != nil {
		return err
	}

	err := s.tx.Run(ctx, func(repos repository.Repositories) error {
		existing, err := repos.Catalog.FindMainCategory(ctx, name)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return repos.Catalog.InsertMainCategory(ctx, name)
		case err != nil:
			return err
		case !existing.State.IsDeleted():
			return fmt.Errorf("%w: main category %q", domain.ErrConflict, name)
		default:
			return repos.Catalog.SetMainCategoryState(ctx, name, domain.Active)
		}
	})
	if err != nil {
		return storeError(err)
	}

	s.committed(ctx, events.CatalogEvent{Type: events.MainCategoryCreated, Key: name})
	return nil
}

// CreateCategory inserts a category under an active main category or revives a deleted one.
func (s *categoryService) CreateCategory(ctx context.Context, key domain.CategoryKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	err := s.tx.Run(ctx, func(repos repository.Repositories) error {
		parent, err := repos.Catalog.FindMainCategory(ctx, key.Main)
		if err != nil {
			return err
		}
		if parent.State.IsDeleted() {
			return fmt.Errorf("%w: main category %q is deleted", domain.ErrNotFound, key.Main)
		}

		existing, err := repos.Catalog.FindCategory(ctx, key)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return repos.Catalog.InsertCategory(ctx, key)
		case err != nil:
			return err
		case !existing.State.IsDeleted():
			return fmt.Errorf("%w: category %s", domain.ErrConflict, key)
		default:
			return repos.Catalog.SetCategoryState(ctx, key, domain.Active)
		}
	})
	if err != nil {
		return storeError(err)
	}

	s.committed(ctx, events.CatalogEvent{Type: events.CategoryCreated, Key: key.String()})
	return nil
}

// CreateSubcategory inserts a subcategory under an active category or revives a deleted one.
// A revived subcategory keeps its specifications in whatever state they were left.
func (s *categoryService) CreateSubcategory(ctx context.Context, key domain.SubcategoryKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	err := s.tx.Run(ctx, func(repos repository.Repositories) error {
		parent, err := repos.Catalog.FindCategory(ctx, key.Parent())
		if err != nil {
			return err
		}
		if parent.State.IsDeleted() {
			return fmt.Errorf("%w: category %s is deleted", domain.ErrNotFound, key.Parent())
		}

		existing, err := repos.Catalog.FindSubcategory(ctx, key)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return repos.Catalog.InsertSubcategory(ctx, key)
		case err != nil:
			return err
		case !existing.State.IsDeleted():
			return fmt.Errorf("%w: subcategory %s", domain.ErrConflict, key)
		default:
			return repos.Catalog.SetSubcategoryState(ctx, key, domain.Active)
		}
	})
	if err != nil {
		return storeError(err)
	}

	s.committed(ctx, events.CatalogEvent{Type: events.SubcategoryCreated, Key: key.String()})
	return nil
}

// DeleteMainCategory soft-deletes a main category and everything it owns.
func (s *categoryService) DeleteMainCategory(ctx context.Context, name string) error {
	if err := domain.ValidateName(name); err != nil {
		return err
	}

	var deleted int
	err := s.tx.Run(ctx, func(repos repository.Repositories) error {
		m, err := repos.Catalog.LoadMainCategoryTree(ctx, name)
		if err != nil {
			return err
		}
		deleted = countActiveMain(m)
		m.MarkDeleted()
		return repos.Catalog.SaveMainCategoryTree(ctx, m)
	})
	if err != nil {
		return storeError(err)
	}

	s.logger.Info("Main category deleted", zap.String("key", name), zap.Int("deleted", deleted))
	s.committed(ctx, events.CatalogEvent{Type: events.MainCategoryDeleted, Key: name, Deleted: deleted})
	return nil
}

// DeleteCategory soft-deletes a category and everything it owns.
func (s *categoryService) DeleteCategory(ctx context.Context, key domain.CategoryKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	var deleted int
	err := s.tx.Run(ctx, func(repos repository.Repositories) error {
		c, err := repos.Catalog.LoadCategoryTree(ctx, key)
		if err != nil {
			return err
		}
		deleted = countActiveCategory(c)
		c.MarkDeleted()
		return repos.Catalog.SaveCategoryTree(ctx, c)
	})
	if err != nil {
		return storeError(err)
	}

	s.logger.Info("Category deleted", zap.Stringer("key", key), zap.Int("deleted", deleted))
	s.committed(ctx, events.CatalogEvent{Type: events.CategoryDeleted, Key: key.String(), Deleted: deleted})
	return nil
}

// DeleteSubcategory soft-deletes a subcategory with its specifications and values.
func (s *categoryService) DeleteSubcategory(ctx context.Context, key domain.SubcategoryKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	var deleted int
	err := s.tx.Run(ctx, func(repos repository.Repositories) error {
		sub, err := repos.Catalog.LoadSubcategoryTree(ctx, key, true)
		if err != nil {
			return err
		}
		deleted = countActiveSubcategory(sub)
		sub.MarkDeleted()
		return repos.Catalog.SaveSubcategoryTree(ctx, sub)
	})
	if err != nil {
		return storeError(err)
	}

	s.logger.Info("Subcategory deleted", zap.Stringer("key", key), zap.Int("deleted", deleted))
	s.committed(ctx, events.CatalogEvent{Type: events.SubcategoryDeleted, Key: key.String(), Deleted: deleted})
	return nil
}

// UpdateSubcategory reconciles the persisted subcategory tree with the submitted
// desired state. Load, reconcile and save happen in one transaction with the
// subcategory row locked, so concurrent updates of the same subcategory serialize.
func (s *categoryService) UpdateSubcategory(ctx context.Context, key domain.SubcategoryKey, update domain.SubcategoryUpdate) (ReconcileResult, error) {
	if update.Name != key.Subcategory {
		return ReconcileResult{}, fmt.Errorf("%w: route names %q, body names %q", domain.ErrMismatch, key.Subcategory, update.Name)
	}
	if err := key.Validate(); err != nil {
		return ReconcileResult{}, err
	}

	var res ReconcileResult
	err := s.tx.Run(ctx, func(repos repository.Repositories) error {
		current, err := repos.Catalog.LoadSubcategoryTree(ctx, key, true)
		if err != nil {
			return err
		}
		res = Reconcile(current, update)
		return repos.Catalog.SaveSubcategoryTree(ctx, current)
	})
	if err != nil {
		return ReconcileResult{}, storeError(err)
	}

	s.logger.Info("Subcategory reconciled",
		zap.Stringer("key", key),
		zap.Int("revived", res.Revived),
		zap.Int("deleted", res.Deleted),
		zap.Int("created", res.Created),
		zap.Int("filters_added", res.FiltersAdded),
		zap.Int("filters_removed", res.FiltersRemoved),
	)
	s.committed(ctx, events.CatalogEvent{
		Type:    events.SubcategoryUpdated,
		Key:     key.String(),
		Revived: res.Revived,
		Deleted: res.Deleted,
		Created: res.Created,
	})
	return res, nil
}

// GetTree returns the whole catalog. The storefront view is served from cache when possible.
func (s *categoryService) GetTree(ctx context.Context, includeDeleted bool) ([]*domain.MainCategory, error) {
	if !includeDeleted {
		if tree, ok := s.cache.GetTree(ctx); ok {
			return tree, nil
		}
	}

	tree, err := s.catalog.ListTree(ctx, includeDeleted)
	if err != nil {
		return nil, storeError(err)
	}

	if !includeDeleted {
		for i, m := range tree {
			tree[i] = m.WithoutDeleted()
		}
		s.cache.SetTree(ctx, tree)
	}
	return tree, nil
}

// GetSubcategory returns one subcategory with its specifications. The storefront
// view hides a subcategory whose category or main category is deleted.
func (s *categoryService) GetSubcategory(ctx context.Context, key domain.SubcategoryKey, includeDeleted bool) (*domain.Subcategory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	if includeDeleted {
		sub, err := s.catalog.ReadSubcategory(ctx, key, true)
		if err != nil {
			return nil, storeError(err)
		}
		return sub, nil
	}

	if sub, ok := s.cache.GetSubcategory(ctx, key); ok {
		return sub, nil
	}

	if err := s.requireActiveParents(ctx, key.Parent()); err != nil {
		return nil, storeError(err)
	}
	sub, err := s.catalog.ReadSubcategory(ctx, key, false)
	if err != nil {
		return nil, storeError(err)
	}
	sub = sub.WithoutDeleted()

	s.cache.SetSubcategory(ctx, key, sub)
	return sub, nil
}

func (s *categoryService) requireActiveParents(ctx context.Context, key domain.CategoryKey) error {
	m, err := s.catalog.FindMainCategory(ctx, key.Main)
	if err != nil {
		return err
	}
	if m.State.IsDeleted() {
		return fmt.Errorf("%w: main category %q", domain.ErrNotFound, key.Main)
	}

	c, err := s.catalog.FindCategory(ctx, key)
	if err != nil {
		return err
	}
	if c.State.IsDeleted() {
		return fmt.Errorf("%w: category %s", domain.ErrNotFound, key)
	}
	return nil
}

// committed runs the side effects of a successful write. Neither may fail the write.
func (s *categoryService) committed(ctx context.Context, event events.CatalogEvent) {
	s.cache.Invalidate(ctx)
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("Catalog event not delivered",
			zap.String("type", event.Type),
			zap.String("key", event.Key),
			zap.Error(err),
		)
	}
}

func countActiveMain(m *domain.MainCategory) int {
	n := activeCount(m.State)
	for _, c := range m.Categories {
		n += countActiveCategory(c)
	}
	return n
}

func countActiveCategory(c *domain.Category) int {
	n := activeCount(c.State)
	for _, sub := range c.Subcategories {
		n += countActiveSubcategory(sub)
	}
	return n
}

func countActiveSubcategory(sub *domain.Subcategory) int {
	n := activeCount(sub.State)
	for _, o := range sub.OpenSpecifications {
		n += activeCount(o.State)
	}
	for _, c := range sub.ClosedSpecifications {
		n += activeCount(c.State)
		for _, v := range c.Values {
			n += activeCount(v.State)
		}
	}
	return n
}

func activeCount(l domain.Lifecycle) int {
	if l.IsDeleted() {
		return 0
	}
	return 1
}
