package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"storefront-catalog/internal/cache"
	"storefront-catalog/internal/domain"
	"storefront-catalog/internal/events"
	"storefront-catalog/internal/repository"
	"storefront-catalog/internal/storage"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ProductService defines the interface for product business logic.
// Every edit appends a new version; versions are never rewritten.
type ProductService interface {
	CreateProduct(ctx context.Context, key domain.SubcategoryKey, in domain.ProductInput) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, in domain.ProductInput) (*domain.Product, error)
	AddProductImage(ctx context.Context, id uuid.UUID, filename string, image io.Reader) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	GetProduct(ctx context.Context, id uuid.UUID, includeDeleted bool) (*domain.Product, error)
	ListProductVersions(ctx context.Context, id uuid.UUID) ([]*domain.ProductVersion, error)
	ListProducts(ctx context.Context, key domain.SubcategoryKey, includeDeleted bool) ([]*domain.Product, error)
}

type productService struct {
	tx       repository.TxRunner
	catalog  repository.CatalogRepository
	products repository.ProductRepository
	images   storage.ImageStore
	cache    cache.CatalogCache
	events   events.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewProductService creates a new instance of ProductService
func NewProductService(
	tx repository.TxRunner,
	catalog repository.CatalogRepository,
	products repository.ProductRepository,
	images storage.ImageStore,
	catalogCache cache.CatalogCache,
	publisher events.Publisher,
	logger *zap.Logger,
) ProductService {
	return &productService{
		tx:       tx,
		catalog:  catalog,
		products: products,
		images:   images,
		cache:    catalogCache,
		events:   publisher,
		logger:   logger.Named("product_service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateProduct creates a product with its first version under an active subcategory.
func (s *productService) CreateProduct(ctx context.Context, key domain.SubcategoryKey, in domain.ProductInput) (*domain.Product, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	product := &domain.Product{
		ID:          uuid.New(),
		Subcategory: key,
		CreatedAt:   now,
	}

	err := s.tx.Run(ctx, func(repos repository.Repositories) error {
		sub, err := repos.Catalog.LoadSubcategoryTree(ctx, key, false)
		if err != nil {
			return err
		}
		if sub.State.IsDeleted() {
			return fmt.Errorf("%w: subcategory %s is deleted", domain.ErrNotFound, key)
		}
		if err := validateProductInput(sub, in, nil); err != nil {
			return err
		}

		if err := repos.Products.Create(ctx, product); err != nil {
			return err
		}
		first := (&domain.ProductVersion{ProductID: product.ID}).NextVersion(in, now)
		if err := repos.Products.AppendVersion(ctx, first); err != nil {
			return err
		}
		product.Latest = first
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("Product created", zap.Stringer("id", product.ID), zap.Stringer("subcategory", key))
	s.committed(ctx, product)
	return product, nil
}

// UpdateProduct appends a version built from in.
func (s *productService) UpdateProduct(ctx context.Context, id uuid.UUID, in domain.ProductInput) (*domain.Product, error) {
	product, err := s.appendVersion(ctx, id, func(*domain.ProductVersion) (domain.ProductInput, error) {
		return in, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product updated", zap.Stringer("id", id), zap.Int("version", product.Latest.Version))
	return product, nil
}

// AddProductImage uploads an image and appends a version carrying its URL.
func (s *productService) AddProductImage(ctx context.Context, id uuid.UUID, filename string, image io.Reader) (*domain.Product, error) {
	existing, err := s.products.FindByID(ctx, id, false)
	if err != nil {
		return nil, storeError(err)
	}
	if existing.State.IsDeleted() || existing.Latest == nil {
		return nil, fmt.Errorf("%w: product %s is deleted", domain.ErrNotFound, id)
	}

	publicID := fmt.Sprintf("%s/%s", id, strings.TrimSuffix(path.Base(filename), path.Ext(filename)))
	url, err := s.images.Upload(ctx, publicID, image)
	if err != nil {
		return nil, storeError(err)
	}

	product, err := s.appendVersion(ctx, id, func(latest *domain.ProductVersion) (domain.ProductInput, error) {
		in := latest.Input()
		in.Images = append(in.Images, url)
		return in, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product image added", zap.Stringer("id", id), zap.String("url", url))
	return product, nil
}

// appendVersion locks the product, derives the next input from its latest
// version, validates it against the subcategory and appends it.
func (s *productService) appendVersion(
	ctx context.Context,
	id uuid.UUID,
	next func(latest *domain.ProductVersion) (domain.ProductInput, error),
) (*domain.Product, error) {
	var product *domain.Product
	err := s.tx.Run(ctx, func(repos repository.Repositories) error {
		p, err := repos.Products.FindByID(ctx, id, true)
		if err != nil {
			return err
		}
		if p.State.IsDeleted() || p.Latest == nil {
			return fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
		}

		in, err := next(p.Latest)
		if err != nil {
			return err
		}

		sub, err := repos.Catalog.LoadSubcategoryTree(ctx, p.Subcategory, false)
		if err != nil {
			return err
		}
		if err := validateProductInput(sub, in, p.Latest); err != nil {
			return err
		}

		v := p.Latest.NextVersion(in, s.now())
		if err := repos.Products.AppendVersion(ctx, v); err != nil {
			return err
		}
		p.Latest = v
		product = p
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.committed(ctx, product)
	return product, nil
}

// DeleteProduct soft-deletes a product. Its versions stay readable to employees.
func (s *productService) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	var product *domain.Product
	err := s.tx.Run(ctx, func(repos repository.Repositories) error {
		p, err := repos.Products.FindByID(ctx, id, true)
		if err != nil {
			return err
		}
		if p.State.IsDeleted() {
			return fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
		}
		p.State = domain.Deleted
		product = p
		return repos.Products.SetState(ctx, id, domain.Deleted)
	})
	if err != nil {
		return storeError(err)
	}

	s.logger.Info("Product deleted", zap.Stringer("id", id))
	s.committed(ctx, product)
	return nil
}

// GetProduct returns a product with its latest version.
func (s *productService) GetProduct(ctx context.Context, id uuid.UUID, includeDeleted bool) (*domain.Product, error) {
	product, err := s.products.FindByID(ctx, id, false)
	if err != nil {
		return nil, storeError(err)
	}
	if !includeDeleted && product.State.IsDeleted() {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	return product, nil
}

// ListProductVersions returns the full version history, newest first.
func (s *productService) ListProductVersions(ctx context.Context, id uuid.UUID) ([]*domain.ProductVersion, error) {
	if _, err := s.products.FindByID(ctx, id, false); err != nil {
		return nil, storeError(err)
	}
	versions, err := s.products.ListVersions(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return versions, nil
}

// ListProducts returns the products of a subcategory.
func (s *productService) ListProducts(ctx context.Context, key domain.SubcategoryKey, includeDeleted bool) ([]*domain.Product, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.catalog.FindSubcategory(ctx, key)
	if err != nil {
		return nil, storeError(err)
	}
	if !includeDeleted && sub.State.IsDeleted() {
		return nil, fmt.Errorf("%w: subcategory %s", domain.ErrNotFound, key)
	}

	products, err := s.products.ListBySubcategory(ctx, key, includeDeleted)
	if err != nil {
		return nil, storeError(err)
	}
	return products, nil
}

func (s *productService) committed(ctx context.Context, product *domain.Product) {
	s.cache.Invalidate(ctx)
	event := events.CatalogEvent{Type: events.ProductChanged, Key: product.ID.String()}
	if product.State.IsDeleted() {
		event.Deleted = 1
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("Product event not delivered", zap.String("key", event.Key), zap.Error(err))
	}
}

// validateProductInput checks the specification values of a product against the
// active specifications of its subcategory. Values carried over unchanged from
// latest keep pointing at their rows even after those rows were soft-deleted,
// so only new or changed values must be active.
func validateProductInput(sub *domain.Subcategory, in domain.ProductInput, latest *domain.ProductVersion) error {
	if in.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", domain.ErrValidation)
	}

	open := lo.Associate(
		lo.Filter(sub.OpenSpecifications, func(o *domain.OpenSpecification, _ int) bool { return !o.State.IsDeleted() }),
		func(o *domain.OpenSpecification) (string, struct{}) { return o.Name, struct{}{} },
	)
	for name, value := range in.OpenValues {
		if carried(latest, name, value, func(v *domain.ProductVersion) map[string]string { return v.OpenValues }) {
			continue
		}
		if _, ok := open[name]; !ok {
			return fmt.Errorf("%w: %q is not an open specification of %s", domain.ErrValidation, name, sub.Key)
		}
	}

	closed := lo.KeyBy(
		lo.Filter(sub.ClosedSpecifications, func(c *domain.ClosedSpecification, _ int) bool { return !c.State.IsDeleted() }),
		func(c *domain.ClosedSpecification) string { return c.Name },
	)
	for name, value := range in.ClosedValues {
		if carried(latest, name, value, func(v *domain.ProductVersion) map[string]string { return v.ClosedValues }) {
			continue
		}
		spec, ok := closed[name]
		if !ok {
			return fmt.Errorf("%w: %q is not a closed specification of %s", domain.ErrValidation, name, sub.Key)
		}
		allowed := lo.ContainsBy(spec.Values, func(v *domain.ClosedSpecificationValue) bool {
			return v.Value == value && !v.State.IsDeleted()
		})
		if !allowed {
			return fmt.Errorf("%w: %q is not a value of %s", domain.ErrValidation, value, name)
		}
	}
	return nil
}

func carried(latest *domain.ProductVersion, name, value string, values func(v *domain.ProductVersion) map[string]string) bool {
	if latest == nil {
		return false
	}
	prev, ok := values(latest)[name]
	return ok && prev == value
}
