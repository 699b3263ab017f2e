package repository

import (
	"context"
	"testing"
	"time"

	"storefront-catalog/internal/domain"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedPans creates a subcategory with an open Material and a closed Size specification.
func seedPans(t *testing.T) domain.SubcategoryKey {
	t.Helper()
	ctx := context.Background()
	catalog := NewCatalogRepository(testDB)
	key := seedSubcategory(t, catalog)

	tree, err := catalog.LoadSubcategoryTree(ctx, key, false)
	require.NoError(t, err)
	tree.OpenSpecifications = []*domain.OpenSpecification{{Name: "Material"}}
	tree.ClosedSpecifications = []*domain.ClosedSpecification{{
		Name:   "Size",
		Values: []*domain.ClosedSpecificationValue{{Value: "24cm"}, {Value: "28cm"}},
	}}
	require.NoError(t, catalog.SaveSubcategoryTree(ctx, tree))
	return key
}

func newTestProduct(key domain.SubcategoryKey) (*domain.Product, *domain.ProductVersion) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	product := &domain.Product{ID: uuid.New(), Subcategory: key, CreatedAt: now}
	version := &domain.ProductVersion{
		ProductID:    product.ID,
		Version:      1,
		Name:         "Cast iron skillet",
		Description:  gofakeit.Sentence(10),
		Price:        decimal.RequireFromString("39.90"),
		Images:       []string{"https://res.cloudinary.com/demo/image/upload/a.png", "https://res.cloudinary.com/demo/image/upload/b.png"},
		OpenValues:   map[string]string{"Material": "cast iron"},
		ClosedValues: map[string]string{"Size": "24cm"},
		CreatedAt:    now,
	}
	return product, version
}

func TestProductRepository_CreateAndFind(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()
	key := seedPans(t)

	product, version := newTestProduct(key)
	require.NoError(t, repo.Create(ctx, product))
	require.NoError(t, repo.AppendVersion(ctx, version))

	found, err := repo.FindByID(ctx, product.ID, false)
	require.NoError(t, err)
	assert.Equal(t, key, found.Subcategory)
	assert.Equal(t, domain.Active, found.State)
	require.NotNil(t, found.Latest)
	assert.Equal(t, 1, found.Latest.Version)
	assert.Equal(t, version.Name, found.Latest.Name)
	assert.Equal(t, version.Description, found.Latest.Description)
	assert.True(t, version.Price.Equal(found.Latest.Price), "price %s != %s", found.Latest.Price, version.Price)
	assert.Equal(t, version.Images, found.Latest.Images)
	assert.Equal(t, version.OpenValues, found.Latest.OpenValues)
	assert.Equal(t, version.ClosedValues, found.Latest.ClosedValues)

	_, err = repo.FindByID(ctx, uuid.New(), false)
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProductRepository_CreateUnderMissingSubcategory(t *testing.T) {
	repo := NewProductRepository(testDB)

	product, _ := newTestProduct(domain.SubcategoryKey{Main: uuid.NewString(), Category: "Kitchen", Subcategory: "Pans"})

	assert.ErrorIs(t, repo.Create(context.Background(), product), domain.ErrNotFound)
}

func TestProductRepository_AppendVersion(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()
	key := seedPans(t)

	product, first := newTestProduct(key)
	require.NoError(t, repo.Create(ctx, product))
	require.NoError(t, repo.AppendVersion(ctx, first))

	second := first.NextVersion(domain.ProductInput{
		Name:         "Cast iron skillet XL",
		Price:        decimal.RequireFromString("49.90"),
		Images:       []string{},
		OpenValues:   map[string]string{"Material": "cast iron"},
		ClosedValues: map[string]string{"Size": "28cm"},
	}, time.Now().UTC())
	require.NoError(t, repo.AppendVersion(ctx, second))

	t.Run("latest is the newest version", func(t *testing.T) {
		found, err := repo.FindByID(ctx, product.ID, false)
		require.NoError(t, err)
		assert.Equal(t, 2, found.Latest.Version)
		assert.Equal(t, "28cm", found.Latest.ClosedValues["Size"])
		assert.Empty(t, found.Latest.Images)
	})

	t.Run("history is kept newest first", func(t *testing.T) {
		versions, err := repo.ListVersions(ctx, product.ID)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, 2, versions[0].Version)
		assert.Equal(t, 1, versions[1].Version)
		assert.Len(t, versions[1].Images, 2)
		assert.Equal(t, "24cm", versions[1].ClosedValues["Size"])
	})

	t.Run("same version number conflicts", func(t *testing.T) {
		again := first.NextVersion(first.Input(), time.Now().UTC())
		assert.ErrorIs(t, repo.AppendVersion(ctx, again), domain.ErrConflict)
	})

	t.Run("value outside the closed set is rejected", func(t *testing.T) {
		in := second.Input()
		in.ClosedValues["Size"] = "30cm"
		third := second.NextVersion(in, time.Now().UTC())

		err := runInRollback(ctx, func(repos Repositories) error {
			return repos.Products.AppendVersion(ctx, third)
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

// runInRollback runs fn in a transaction that is always rolled back.
func runInRollback(ctx context.Context, fn func(repos Repositories) error) error {
	tx, err := testDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	return fn(Repositories{Catalog: NewCatalogRepository(tx), Products: NewProductRepository(tx)})
}

func TestProductRepository_SetStateAndList(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()
	key := seedPans(t)

	kept, keptVersion := newTestProduct(key)
	require.NoError(t, repo.Create(ctx, kept))
	require.NoError(t, repo.AppendVersion(ctx, keptVersion))

	removed, removedVersion := newTestProduct(key)
	require.NoError(t, repo.Create(ctx, removed))
	require.NoError(t, repo.AppendVersion(ctx, removedVersion))
	require.NoError(t, repo.SetState(ctx, removed.ID, domain.Deleted))

	storefront, err := repo.ListBySubcategory(ctx, key, false)
	require.NoError(t, err)
	require.Len(t, storefront, 1)
	assert.Equal(t, kept.ID, storefront[0].ID)
	require.NotNil(t, storefront[0].Latest)
	assert.Equal(t, "cast iron", storefront[0].Latest.OpenValues["Material"])

	all, err := repo.ListBySubcategory(ctx, key, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	found, err := repo.FindByID(ctx, removed.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.Deleted, found.State)

	assert.ErrorIs(t, repo.SetState(ctx, uuid.New(), domain.Deleted), ErrProductNotFound)

	empty, err := repo.ListBySubcategory(ctx, domain.SubcategoryKey{Main: key.Main, Category: key.Category, Subcategory: "Pots"}, true)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestProperty_PricesSurviveStorage(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()
	key := seedPans(t)

	properties := gopter.NewProperties(nil)

	properties.Property("prices with two decimals are stored exactly", prop.ForAll(
		func(cents int64) bool {
			product, version := newTestProduct(key)
			version.Price = decimal.New(cents, -2)

			if err := repo.Create(ctx, product); err != nil {
				t.Logf("create failed: %v", err)
				return false
			}
			if err := repo.AppendVersion(ctx, version); err != nil {
				t.Logf("append failed: %v", err)
				return false
			}

			found, err := repo.FindByID(ctx, product.ID, false)
			if err != nil {
				t.Logf("find failed: %v", err)
				return false
			}
			return found.Latest.Price.Equal(version.Price)
		},
		gen.Int64Range(0, 99999999),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
