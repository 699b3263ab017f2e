package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-catalog/internal/domain"

	sq "github.com/Masterminds/squirrel"
)

const (
	colMain          = "main_category_name"
	colCategory      = "category_name"
	colSubcategory   = "subcategory_name"
	colSpecification = "specification_name"
)

// CatalogRepository defines the interface for category tree data access.
// Rows are addressed by their natural-key name chains.
type CatalogRepository interface {
	FindMainCategory(ctx context.Context, name string) (*domain.MainCategory, error)
	FindCategory(ctx context.Context, key domain.CategoryKey) (*domain.Category, error)
	FindSubcategory(ctx context.Context, key domain.SubcategoryKey) (*domain.Subcategory, error)

	InsertMainCategory(ctx context.Context, name string) error
	InsertCategory(ctx context.Context, key domain.CategoryKey) error
	InsertSubcategory(ctx context.Context, key domain.SubcategoryKey) error

	SetMainCategoryState(ctx context.Context, name string, state domain.Lifecycle) error
	SetCategoryState(ctx context.Context, key domain.CategoryKey, state domain.Lifecycle) error
	SetSubcategoryState(ctx context.Context, key domain.SubcategoryKey, state domain.Lifecycle) error

	LoadMainCategoryTree(ctx context.Context, name string) (*domain.MainCategory, error)
	LoadCategoryTree(ctx context.Context, key domain.CategoryKey) (*domain.Category, error)
	LoadSubcategoryTree(ctx context.Context, key domain.SubcategoryKey, forUpdate bool) (*domain.Subcategory, error)
	ReadSubcategory(ctx context.Context, key domain.SubcategoryKey, includeDeleted bool) (*domain.Subcategory, error)

	SaveMainCategoryTree(ctx context.Context, m *domain.MainCategory) error
	SaveCategoryTree(ctx context.Context, c *domain.Category) error
	SaveSubcategoryTree(ctx context.Context, s *domain.Subcategory) error

	ListTree(ctx context.Context, includeDeleted bool) ([]*domain.MainCategory, error)
}

type catalogRepository struct {
	db DBTX
}

// NewCatalogRepository creates a new instance of CatalogRepository
func NewCatalogRepository(db DBTX) CatalogRepository {
	return &catalogRepository{db: db}
}

// treeScope narrows loads to a main category, a category or a single subcategory.
type treeScope struct {
	main, category, subcategory string
}

func (s treeScope) subcategories() sq.Eq {
	eq := sq.Eq{colMain: s.main}
	if s.category != "" {
		eq[colCategory] = s.category
	}
	if s.subcategory != "" {
		eq["name"] = s.subcategory
	}
	return eq
}

func (s treeScope) specifications() sq.Eq {
	eq := sq.Eq{colMain: s.main}
	if s.category != "" {
		eq[colCategory] = s.category
	}
	if s.subcategory != "" {
		eq[colSubcategory] = s.subcategory
	}
	return eq
}

type loadOptions struct {
	forUpdate      bool
	includeDeleted bool
	byName         bool
}

func (o loadOptions) apply(b sq.SelectBuilder, orderColumn string) sq.SelectBuilder {
	if !o.includeDeleted {
		b = b.Where(sq.Eq{"deleted": false})
	}
	if o.byName {
		return b.OrderBy(orderColumn)
	}
	return b.OrderBy("position", orderColumn)
}

func (r *catalogRepository) FindMainCategory(ctx context.Context, name string) (*domain.MainCategory, error) {
	row, err := queryRow(ctx, r.db, statementBuilder.
		Select("name", "deleted").
		From("main_categories").
		Where(sq.Eq{"name": name}))
	if err != nil {
		return nil, err
	}

	m := &domain.MainCategory{Categories: []*domain.Category{}}
	var deleted bool
	if err := row.Scan(&m.Name, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: main category %q", domain.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to find main category: %w", err)
	}
	m.State = domain.LifecycleOf(deleted)

	return m, nil
}

func (r *catalogRepository) FindCategory(ctx context.Context, key domain.CategoryKey) (*domain.Category, error) {
	row, err := queryRow(ctx, r.db, statementBuilder.
		Select("deleted").
		From("categories").
		Where(sq.Eq{colMain: key.Main, "name": key.Category}))
	if err != nil {
		return nil, err
	}

	var deleted bool
	if err := row.Scan(&deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: category %s", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to find category: %w", err)
	}

	c := domain.NewCategory(key)
	c.State = domain.LifecycleOf(deleted)
	return c, nil
}

func (r *catalogRepository) FindSubcategory(ctx context.Context, key domain.SubcategoryKey) (*domain.Subcategory, error) {
	row, err := queryRow(ctx, r.db, statementBuilder.
		Select("deleted").
		From("subcategories").
		Where(sq.Eq{colMain: key.Main, colCategory: key.Category, "name": key.Subcategory}))
	if err != nil {
		return nil, err
	}

	var deleted bool
	if err := row.Scan(&deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: subcategory %s", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to find subcategory: %w", err)
	}

	s := domain.NewSubcategory(key)
	s.State = domain.LifecycleOf(deleted)
	return s, nil
}

func (r *catalogRepository) InsertMainCategory(ctx context.Context, name string) error {
	_, err := exec(ctx, r.db, statementBuilder.
		Insert("main_categories").
		Columns("name", "deleted").
		Values(name, false), "insert main category")
	return translateWriteError(err, "main category "+name)
}

func (r *catalogRepository) InsertCategory(ctx context.Context, key domain.CategoryKey) error {
	_, err := exec(ctx, r.db, statementBuilder.
		Insert("categories").
		Columns(colMain, "name", "deleted").
		Values(key.Main, key.Category, false), "insert category")
	return translateWriteError(err, "category "+key.String())
}

func (r *catalogRepository) InsertSubcategory(ctx context.Context, key domain.SubcategoryKey) error {
	_, err := exec(ctx, r.db, statementBuilder.
		Insert("subcategories").
		Columns(colMain, colCategory, "name", "deleted").
		Values(key.Main, key.Category, key.Subcategory, false), "insert subcategory")
	return translateWriteError(err, "subcategory "+key.String())
}

func (r *catalogRepository) SetMainCategoryState(ctx context.Context, name string, state domain.Lifecycle) error {
	return r.setState(ctx, "main_categories", sq.Eq{"name": name}, state, "main category "+name)
}

func (r *catalogRepository) SetCategoryState(ctx context.Context, key domain.CategoryKey, state domain.Lifecycle) error {
	return r.setState(ctx, "categories", sq.Eq{colMain: key.Main, "name": key.Category}, state, "category "+key.String())
}

func (r *catalogRepository) SetSubcategoryState(ctx context.Context, key domain.SubcategoryKey, state domain.Lifecycle) error {
	where := sq.Eq{colMain: key.Main, colCategory: key.Category, "name": key.Subcategory}
	return r.setState(ctx, "subcategories", where, state, "subcategory "+key.String())
}

func (r *catalogRepository) setState(ctx context.Context, table string, where sq.Eq, state domain.Lifecycle, what string) error {
	result, err := exec(ctx, r.db, statementBuilder.
		Update(table).
		Set("deleted", state.IsDeleted()).
		Where(where), "update "+what)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return nil
}

// LoadMainCategoryTree loads a main category with every category, subcategory,
// specification, value and filter beneath it, deleted rows included.
func (r *catalogRepository) LoadMainCategoryTree(ctx context.Context, name string) (*domain.MainCategory, error) {
	m, err := r.FindMainCategory(ctx, name)
	if err != nil {
		return nil, err
	}

	opts := loadOptions{includeDeleted: true, byName: true}

	categories := map[domain.CategoryKey]*domain.Category{}
	err = r.eachRow(ctx, opts.apply(statementBuilder.
		Select("name", "deleted").
		From("categories").
		Where(sq.Eq{colMain: name}), "name"), "list categories", func(rows *sql.Rows) error {
		var (
			key     = domain.CategoryKey{Main: name}
			deleted bool
		)
		if err := rows.Scan(&key.Category, &deleted); err != nil {
			return err
		}
		c := domain.NewCategory(key)
		c.State = domain.LifecycleOf(deleted)
		m.Categories = append(m.Categories, c)
		categories[key] = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	subs, err := r.loadSubcategories(ctx, treeScope{main: name}, opts)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		if c, ok := categories[s.Key.Parent()]; ok {
			c.Subcategories = append(c.Subcategories, s)
		}
	}

	return m, nil
}

// LoadCategoryTree loads a category with its full subtree, deleted rows included.
func (r *catalogRepository) LoadCategoryTree(ctx context.Context, key domain.CategoryKey) (*domain.Category, error) {
	c, err := r.FindCategory(ctx, key)
	if err != nil {
		return nil, err
	}

	subs, err := r.loadSubcategories(ctx, treeScope{main: key.Main, category: key.Category}, loadOptions{includeDeleted: true, byName: true})
	if err != nil {
		return nil, err
	}
	c.Subcategories = subs

	return c, nil
}

// LoadSubcategoryTree loads a subcategory with its specifications in insertion order.
// With forUpdate the subcategory row stays locked until the surrounding transaction ends.
func (r *catalogRepository) LoadSubcategoryTree(ctx context.Context, key domain.SubcategoryKey, forUpdate bool) (*domain.Subcategory, error) {
	return r.loadOne(ctx, key, loadOptions{forUpdate: forUpdate, includeDeleted: true})
}

// ReadSubcategory is the read-side load: ordered by name, optionally hiding deleted rows.
func (r *catalogRepository) ReadSubcategory(ctx context.Context, key domain.SubcategoryKey, includeDeleted bool) (*domain.Subcategory, error) {
	return r.loadOne(ctx, key, loadOptions{includeDeleted: includeDeleted, byName: true})
}

func (r *catalogRepository) loadOne(ctx context.Context, key domain.SubcategoryKey, opts loadOptions) (*domain.Subcategory, error) {
	scope := treeScope{main: key.Main, category: key.Category, subcategory: key.Subcategory}
	subs, err := r.loadSubcategories(ctx, scope, opts)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: subcategory %s", domain.ErrNotFound, key)
	}
	return subs[0], nil
}

func (r *catalogRepository) loadSubcategories(ctx context.Context, scope treeScope, opts loadOptions) ([]*domain.Subcategory, error) {
	b := statementBuilder.
		Select(colMain, colCategory, "name", "deleted").
		From("subcategories").
		Where(scope.subcategories()).
		OrderBy(colCategory, "name")
	if !opts.includeDeleted {
		b = b.Where(sq.Eq{"deleted": false})
	}
	if opts.forUpdate {
		b = b.Suffix("FOR UPDATE")
	}

	subs := []*domain.Subcategory{}
	index := map[domain.SubcategoryKey]*domain.Subcategory{}
	err := r.eachRow(ctx, b, "list subcategories", func(rows *sql.Rows) error {
		var (
			key     domain.SubcategoryKey
			deleted bool
		)
		if err := rows.Scan(&key.Main, &key.Category, &key.Subcategory, &deleted); err != nil {
			return err
		}
		s := domain.NewSubcategory(key)
		s.State = domain.LifecycleOf(deleted)
		subs = append(subs, s)
		index[key] = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return subs, nil
	}

	if err := r.attachSpecifications(ctx, index, scope, opts); err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *catalogRepository) attachSpecifications(ctx context.Context, index map[domain.SubcategoryKey]*domain.Subcategory, scope treeScope, opts loadOptions) error {
	where := scope.specifications()

	err := r.eachRow(ctx, opts.apply(statementBuilder.
		Select(colMain, colCategory, colSubcategory, "name", "deleted").
		From("open_specifications").
		Where(where), "name"), "list open specifications", func(rows *sql.Rows) error {
		var (
			key     domain.SubcategoryKey
			spec    domain.OpenSpecification
			deleted bool
		)
		if err := rows.Scan(&key.Main, &key.Category, &key.Subcategory, &spec.Name, &deleted); err != nil {
			return err
		}
		if s, ok := index[key]; ok {
			spec.State = domain.LifecycleOf(deleted)
			s.OpenSpecifications = append(s.OpenSpecifications, &spec)
		}
		return nil
	})
	if err != nil {
		return err
	}

	closed := map[domain.SpecificationKey]*domain.ClosedSpecification{}
	err = r.eachRow(ctx, opts.apply(statementBuilder.
		Select(colMain, colCategory, colSubcategory, "name", "deleted").
		From("closed_specifications").
		Where(where), "name"), "list closed specifications", func(rows *sql.Rows) error {
		var (
			key     domain.SubcategoryKey
			name    string
			deleted bool
		)
		if err := rows.Scan(&key.Main, &key.Category, &key.Subcategory, &name, &deleted); err != nil {
			return err
		}
		if s, ok := index[key]; ok {
			spec := &domain.ClosedSpecification{
				Name:   name,
				State:  domain.LifecycleOf(deleted),
				Values: []*domain.ClosedSpecificationValue{},
			}
			s.ClosedSpecifications = append(s.ClosedSpecifications, spec)
			closed[key.Specification(name)] = spec
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(closed) == 0 {
		return nil
	}

	err = r.eachRow(ctx, opts.apply(statementBuilder.
		Select(colMain, colCategory, colSubcategory, colSpecification, "value", "deleted").
		From("closed_specification_values").
		Where(where), "value"), "list closed specification values", func(rows *sql.Rows) error {
		var (
			key     domain.SpecificationKey
			value   domain.ClosedSpecificationValue
			deleted bool
		)
		if err := rows.Scan(&key.Main, &key.Category, &key.Subcategory, &key.Name, &value.Value, &deleted); err != nil {
			return err
		}
		if spec, ok := closed[key]; ok {
			value.State = domain.LifecycleOf(deleted)
			spec.Values = append(spec.Values, &value)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return r.eachRow(ctx, statementBuilder.
		Select(colMain, colCategory, colSubcategory, colSpecification, "title").
		From("filters").
		Where(where), "list filters", func(rows *sql.Rows) error {
		var (
			key    domain.SpecificationKey
			filter domain.Filter
		)
		if err := rows.Scan(&key.Main, &key.Category, &key.Subcategory, &key.Name, &filter.Title); err != nil {
			return err
		}
		if spec, ok := closed[key]; ok {
			spec.Filter = &filter
		}
		return nil
	})
}

// SaveMainCategoryTree writes the flags of every node under m.
func (r *catalogRepository) SaveMainCategoryTree(ctx context.Context, m *domain.MainCategory) error {
	_, err := exec(ctx, r.db, statementBuilder.
		Insert("main_categories").
		Columns("name", "deleted").
		Values(m.Name, m.State.IsDeleted()).
		Suffix("ON CONFLICT (name) DO UPDATE SET deleted = EXCLUDED.deleted"), "save main category")
	if err != nil {
		return err
	}

	for _, c := range m.Categories {
		if err := r.SaveCategoryTree(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *catalogRepository) SaveCategoryTree(ctx context.Context, c *domain.Category) error {
	_, err := exec(ctx, r.db, statementBuilder.
		Insert("categories").
		Columns(colMain, "name", "deleted").
		Values(c.Key.Main, c.Key.Category, c.State.IsDeleted()).
		Suffix("ON CONFLICT (main_category_name, name) DO UPDATE SET deleted = EXCLUDED.deleted"), "save category")
	if err != nil {
		return err
	}

	for _, s := range c.Subcategories {
		if err := r.SaveSubcategoryTree(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// SaveSubcategoryTree upserts the subcategory, its specifications and values,
// and brings the filter rows in line with the in-memory tree.
func (r *catalogRepository) SaveSubcategoryTree(ctx context.Context, s *domain.Subcategory) error {
	k := s.Key

	_, err := exec(ctx, r.db, statementBuilder.
		Insert("subcategories").
		Columns(colMain, colCategory, "name", "deleted").
		Values(k.Main, k.Category, k.Subcategory, s.State.IsDeleted()).
		Suffix("ON CONFLICT (main_category_name, category_name, name) DO UPDATE SET deleted = EXCLUDED.deleted"), "save subcategory")
	if err != nil {
		return err
	}

	const specConflict = "ON CONFLICT (main_category_name, category_name, subcategory_name, name) " +
		"DO UPDATE SET deleted = EXCLUDED.deleted, position = EXCLUDED.position"

	open := make([][]any, 0, len(s.OpenSpecifications))
	for i, o := range s.OpenSpecifications {
		open = append(open, []any{k.Main, k.Category, k.Subcategory, o.Name, o.State.IsDeleted(), i})
	}
	err = insertRows(ctx, r.db, statementBuilder.
		Insert("open_specifications").
		Columns(colMain, colCategory, colSubcategory, "name", "deleted", "position").
		Suffix(specConflict), open, "save open specifications")
	if err != nil {
		return err
	}

	var (
		specs         [][]any
		values        [][]any
		filters       [][]any
		withoutFilter []string
	)
	for i, c := range s.ClosedSpecifications {
		specs = append(specs, []any{k.Main, k.Category, k.Subcategory, c.Name, c.State.IsDeleted(), i})
		for j, v := range c.Values {
			values = append(values, []any{k.Main, k.Category, k.Subcategory, c.Name, v.Value, v.State.IsDeleted(), j})
		}
		if c.Filter == nil {
			withoutFilter = append(withoutFilter, c.Name)
			continue
		}
		filters = append(filters, []any{k.Main, k.Category, k.Subcategory, c.Name, c.Filter.Title})
	}

	err = insertRows(ctx, r.db, statementBuilder.
		Insert("closed_specifications").
		Columns(colMain, colCategory, colSubcategory, "name", "deleted", "position").
		Suffix(specConflict), specs, "save closed specifications")
	if err != nil {
		return err
	}
	err = insertRows(ctx, r.db, statementBuilder.
		Insert("closed_specification_values").
		Columns(colMain, colCategory, colSubcategory, colSpecification, "value", "deleted", "position").
		Suffix("ON CONFLICT (main_category_name, category_name, subcategory_name, specification_name, value) "+
			"DO UPDATE SET deleted = EXCLUDED.deleted, position = EXCLUDED.position"), values, "save closed specification values")
	if err != nil {
		return err
	}
	if len(withoutFilter) > 0 {
		_, err := exec(ctx, r.db, statementBuilder.
			Delete("filters").
			Where(sq.Eq{colMain: k.Main, colCategory: k.Category, colSubcategory: k.Subcategory, colSpecification: withoutFilter}),
			"remove filters")
		if err != nil {
			return err
		}
	}
	return insertRows(ctx, r.db, statementBuilder.
		Insert("filters").
		Columns(colMain, colCategory, colSubcategory, colSpecification, "title").
		Suffix("ON CONFLICT (main_category_name, category_name, subcategory_name, specification_name) "+
			"DO UPDATE SET title = EXCLUDED.title"), filters, "save filters")
}

// ListTree returns main categories, categories and subcategories ordered by name.
// Specifications are not loaded.
func (r *catalogRepository) ListTree(ctx context.Context, includeDeleted bool) ([]*domain.MainCategory, error) {
	opts := loadOptions{includeDeleted: includeDeleted, byName: true}

	mains := []*domain.MainCategory{}
	mainIndex := map[string]*domain.MainCategory{}
	err := r.eachRow(ctx, opts.apply(statementBuilder.
		Select("name", "deleted").
		From("main_categories"), "name"), "list main categories", func(rows *sql.Rows) error {
		m := &domain.MainCategory{Categories: []*domain.Category{}}
		var deleted bool
		if err := rows.Scan(&m.Name, &deleted); err != nil {
			return err
		}
		m.State = domain.LifecycleOf(deleted)
		mains = append(mains, m)
		mainIndex[m.Name] = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	categoryIndex := map[domain.CategoryKey]*domain.Category{}
	err = r.eachRow(ctx, opts.apply(statementBuilder.
		Select(colMain, "name", "deleted").
		From("categories"), "name"), "list categories", func(rows *sql.Rows) error {
		var (
			key     domain.CategoryKey
			deleted bool
		)
		if err := rows.Scan(&key.Main, &key.Category, &deleted); err != nil {
			return err
		}
		if m, ok := mainIndex[key.Main]; ok {
			c := domain.NewCategory(key)
			c.State = domain.LifecycleOf(deleted)
			m.Categories = append(m.Categories, c)
			categoryIndex[key] = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.eachRow(ctx, opts.apply(statementBuilder.
		Select(colMain, colCategory, "name", "deleted").
		From("subcategories"), "name"), "list subcategories", func(rows *sql.Rows) error {
		var (
			key     domain.SubcategoryKey
			deleted bool
		)
		if err := rows.Scan(&key.Main, &key.Category, &key.Subcategory, &deleted); err != nil {
			return err
		}
		if c, ok := categoryIndex[key.Parent()]; ok {
			s := domain.NewSubcategory(key)
			s.State = domain.LifecycleOf(deleted)
			c.Subcategories = append(c.Subcategories, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return mains, nil
}

func (r *catalogRepository) eachRow(ctx context.Context, b sq.SelectBuilder, action string, scan func(rows *sql.Rows) error) error {
	rows, err := query(ctx, r.db, b, action)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("failed to scan row to %s: %w", action, err)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows to %s: %w", action, err)
	}
	return nil
}

// translateWriteError maps constraint violations of an insert onto domain errors.
func translateWriteError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case hasPgCode(err, pgUniqueViolation):
		return fmt.Errorf("%w: %s", domain.ErrConflict, what)
	case hasPgCode(err, pgForeignKeyViolation):
		return fmt.Errorf("%w: parent of %s", domain.ErrNotFound, what)
	default:
		return err
	}
}
