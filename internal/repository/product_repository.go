package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-catalog/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var (
	ErrProductNotFound = fmt.Errorf("%w: product", domain.ErrNotFound)
)

// ProductRepository defines the interface for product data access.
// Versions are append-only: nothing here updates or removes a version.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	SetState(ctx context.Context, id uuid.UUID, state domain.Lifecycle) error
	FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Product, error)
	AppendVersion(ctx context.Context, version *domain.ProductVersion) error
	ListVersions(ctx context.Context, id uuid.UUID) ([]*domain.ProductVersion, error)
	ListBySubcategory(ctx context.Context, key domain.SubcategoryKey, includeDeleted bool) ([]*domain.Product, error)
}

type productRepository struct {
	db DBTX
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db DBTX) ProductRepository {
	return &productRepository{db: db}
}

// Create inserts the product row. Its first version is written with AppendVersion.
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	k := product.Subcategory
	_, err := exec(ctx, r.db, statementBuilder.
		Insert("products").
		Columns("id", colMain, colCategory, colSubcategory, "deleted", "created_at").
		Values(product.ID, k.Main, k.Category, k.Subcategory, product.State.IsDeleted(), product.CreatedAt),
		"create product")
	return translateWriteError(err, "product "+product.ID.String())
}

func (r *productRepository) SetState(ctx context.Context, id uuid.UUID, state domain.Lifecycle) error {
	result, err := exec(ctx, r.db, statementBuilder.
		Update("products").
		Set("deleted", state.IsDeleted()).
		Where(sq.Eq{"id": id}), "update product")
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

// FindByID retrieves a product with its latest version. With forUpdate the
// product row stays locked until the surrounding transaction ends.
func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Product, error) {
	b := statementBuilder.
		Select("id", colMain, colCategory, colSubcategory, "deleted", "created_at").
		From("products").
		Where(sq.Eq{"id": id})
	if forUpdate {
		b = b.Suffix("FOR UPDATE")
	}

	row, err := queryRow(ctx, r.db, b)
	if err != nil {
		return nil, err
	}

	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	versions, err := r.listVersions(ctx, sq.Eq{"product_id": id}, true)
	if err != nil {
		return nil, err
	}
	if len(versions) > 0 {
		product.Latest = versions[0]
	}

	return product, nil
}

// AppendVersion writes a version with its images and specification values.
// A concurrent append of the same version number fails with domain.ErrConflict.
func (r *productRepository) AppendVersion(ctx context.Context, v *domain.ProductVersion) error {
	_, err := exec(ctx, r.db, statementBuilder.
		Insert("product_versions").
		Columns("product_id", "version", "name", "description", "price", "created_at").
		Values(v.ProductID, v.Version, v.Name, v.Description, v.Price, v.CreatedAt),
		"insert product version")
	if err := translateWriteError(err, fmt.Sprintf("product %s version %d", v.ProductID, v.Version)); err != nil {
		return err
	}

	if len(v.Images) > 0 {
		b := statementBuilder.
			Insert("product_version_images").
			Columns("product_id", "version", "position", "url")
		for i, url := range v.Images {
			b = b.Values(v.ProductID, v.Version, i, url)
		}
		if _, err := exec(ctx, r.db, b, "insert product images"); err != nil {
			return err
		}
	}

	product, err := r.subcategoryOf(ctx, v.ProductID)
	if err != nil {
		return err
	}

	if len(v.OpenValues) > 0 {
		b := statementBuilder.
			Insert("product_version_open_values").
			Columns("product_id", "version", colMain, colCategory, colSubcategory, colSpecification, "value")
		for spec, value := range v.OpenValues {
			b = b.Values(v.ProductID, v.Version, product.Main, product.Category, product.Subcategory, spec, value)
		}
		_, err := exec(ctx, r.db, b, "insert product open values")
		if err := translateWriteError(err, "open specification value"); err != nil {
			return err
		}
	}

	if len(v.ClosedValues) > 0 {
		b := statementBuilder.
			Insert("product_version_closed_values").
			Columns("product_id", "version", colMain, colCategory, colSubcategory, colSpecification, "value")
		for spec, value := range v.ClosedValues {
			b = b.Values(v.ProductID, v.Version, product.Main, product.Category, product.Subcategory, spec, value)
		}
		_, err := exec(ctx, r.db, b, "insert product closed values")
		if err := translateWriteError(err, "closed specification value"); err != nil {
			return err
		}
	}

	return nil
}

// ListVersions returns every version of a product, newest first.
func (r *productRepository) ListVersions(ctx context.Context, id uuid.UUID) ([]*domain.ProductVersion, error) {
	return r.listVersions(ctx, sq.Eq{"product_id": id}, false)
}

// ListBySubcategory returns the products of a subcategory with their latest versions.
func (r *productRepository) ListBySubcategory(ctx context.Context, key domain.SubcategoryKey, includeDeleted bool) ([]*domain.Product, error) {
	b := statementBuilder.
		Select("id", colMain, colCategory, colSubcategory, "deleted", "created_at").
		From("products").
		Where(sq.Eq{colMain: key.Main, colCategory: key.Category, colSubcategory: key.Subcategory}).
		OrderBy("created_at DESC")
	if !includeDeleted {
		b = b.Where(sq.Eq{"deleted": false})
	}

	rows, err := query(ctx, r.db, b, "list products")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []*domain.Product{}
	index := map[uuid.UUID]*domain.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
		index[product.ID] = product
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	if len(products) == 0 {
		return products, nil
	}

	ids := make([]uuid.UUID, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}

	versions, err := r.listVersions(ctx, sq.Eq{"product_id": ids}, true)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if p, ok := index[v.ProductID]; ok {
			p.Latest = v
		}
	}

	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	product := &domain.Product{}
	var deleted bool
	err := row.Scan(
		&product.ID,
		&product.Subcategory.Main,
		&product.Subcategory.Category,
		&product.Subcategory.Subcategory,
		&deleted,
		&product.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	product.State = domain.LifecycleOf(deleted)
	return product, nil
}

func (r *productRepository) subcategoryOf(ctx context.Context, id uuid.UUID) (domain.SubcategoryKey, error) {
	var key domain.SubcategoryKey
	row, err := queryRow(ctx, r.db, statementBuilder.
		Select(colMain, colCategory, colSubcategory).
		From("products").
		Where(sq.Eq{"id": id}))
	if err != nil {
		return key, err
	}
	if err := row.Scan(&key.Main, &key.Category, &key.Subcategory); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return key, ErrProductNotFound
		}
		return key, fmt.Errorf("failed to find product subcategory: %w", err)
	}
	return key, nil
}

// listVersions loads versions matching where, newest first. With latestOnly
// only the newest version of each product is returned.
func (r *productRepository) listVersions(ctx context.Context, where sq.Sqlizer, latestOnly bool) ([]*domain.ProductVersion, error) {
	b := statementBuilder.
		Select("product_id", "version", "name", "COALESCE(description, '')", "price", "created_at").
		From("product_versions").
		Where(where).
		OrderBy("product_id", "version DESC")
	if latestOnly {
		b = b.Distinct().Options("ON (product_id)")
	}

	rows, err := query(ctx, r.db, b, "list product versions")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := []*domain.ProductVersion{}
	for rows.Next() {
		v := &domain.ProductVersion{
			Images:       []string{},
			OpenValues:   map[string]string{},
			ClosedValues: map[string]string{},
		}
		if err := rows.Scan(&v.ProductID, &v.Version, &v.Name, &v.Description, &v.Price, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product version: %w", err)
		}
		versions = append(versions, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product versions: %w", err)
	}
	if len(versions) == 0 {
		return versions, nil
	}

	if err := r.attachVersionDetails(ctx, versions); err != nil {
		return nil, err
	}
	return versions, nil
}

type versionKey struct {
	productID uuid.UUID
	version   int
}

func (r *productRepository) attachVersionDetails(ctx context.Context, versions []*domain.ProductVersion) error {
	index := make(map[versionKey]*domain.ProductVersion, len(versions))
	match := make(sq.Or, 0, len(versions))
	for _, v := range versions {
		index[versionKey{v.ProductID, v.Version}] = v
		match = append(match, sq.Eq{"product_id": v.ProductID, "version": v.Version})
	}

	rows, err := query(ctx, r.db, statementBuilder.
		Select("product_id", "version", "url").
		From("product_version_images").
		Where(match).
		OrderBy("product_id", "version", "position"), "list product images")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key versionKey
			url string
		)
		if err := rows.Scan(&key.productID, &key.version, &url); err != nil {
			return fmt.Errorf("failed to scan product image: %w", err)
		}
		if v, ok := index[key]; ok {
			v.Images = append(v.Images, url)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating product images: %w", err)
	}

	if err := r.attachValues(ctx, "product_version_open_values", match, index, func(v *domain.ProductVersion) map[string]string {
		return v.OpenValues
	}); err != nil {
		return err
	}
	return r.attachValues(ctx, "product_version_closed_values", match, index, func(v *domain.ProductVersion) map[string]string {
		return v.ClosedValues
	})
}

func (r *productRepository) attachValues(
	ctx context.Context,
	table string,
	match sq.Sqlizer,
	index map[versionKey]*domain.ProductVersion,
	target func(v *domain.ProductVersion) map[string]string,
) error {
	rows, err := query(ctx, r.db, statementBuilder.
		Select("product_id", "version", colSpecification, "value").
		From(table).
		Where(match), "list "+table)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key         versionKey
			spec, value string
		)
		if err := rows.Scan(&key.productID, &key.version, &spec, &value); err != nil {
			return fmt.Errorf("failed to scan %s: %w", table, err)
		}
		if v, ok := index[key]; ok {
			target(v)[spec] = value
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating %s: %w", table, err)
	}
	return nil
}
