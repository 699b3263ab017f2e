package domain

// MainCategory is the root of the catalog tree.
type MainCategory struct {
	Name       string      `json:"name"`
	State      Lifecycle   `json:"deleted"`
	Categories []*Category `json:"categories"`
}

// Category belongs to a main category and owns subcategories.
type Category struct {
	Key           CategoryKey    `json:"-"`
	Name          string         `json:"name"`
	State         Lifecycle      `json:"deleted"`
	Subcategories []*Subcategory `json:"subcategories"`
}

// Subcategory owns the specifications products are described by.
type Subcategory struct {
	Key                  SubcategoryKey         `json:"-"`
	Name                 string                 `json:"name"`
	State                Lifecycle              `json:"deleted"`
	OpenSpecifications   []*OpenSpecification   `json:"open_specifications"`
	ClosedSpecifications []*ClosedSpecification `json:"closed_specifications"`
}

// OpenSpecification takes free-text values per product version.
type OpenSpecification struct {
	Name  string    `json:"name"`
	State Lifecycle `json:"deleted"`
}

// ClosedSpecification takes values from a fixed set and may expose a filter.
type ClosedSpecification struct {
	Name   string                      `json:"name"`
	State  Lifecycle                   `json:"deleted"`
	Values []*ClosedSpecificationValue `json:"values"`
	Filter *Filter                     `json:"filter"`
}

type ClosedSpecificationValue struct {
	Value string    `json:"value"`
	State Lifecycle `json:"deleted"`
}

// Filter is the storefront filter of a closed specification. At most one exists per specification.
type Filter struct {
	Title string `json:"title"`
}

func NewCategory(key CategoryKey) *Category {
	return &Category{Key: key, Name: key.Category, Subcategories: []*Subcategory{}}
}

func NewSubcategory(key SubcategoryKey) *Subcategory {
	return &Subcategory{
		Key:                  key,
		Name:                 key.Subcategory,
		OpenSpecifications:   []*OpenSpecification{},
		ClosedSpecifications: []*ClosedSpecification{},
	}
}

// MarkDeleted flags the main category and everything beneath it.
func (m *MainCategory) MarkDeleted() {
	m.State = Deleted
	for _, c := range m.Categories {
		c.MarkDeleted()
	}
}

func (c *Category) MarkDeleted() {
	c.State = Deleted
	for _, s := range c.Subcategories {
		s.MarkDeleted()
	}
}

func (s *Subcategory) MarkDeleted() {
	s.State = Deleted
	for _, o := range s.OpenSpecifications {
		o.State = Deleted
	}
	for _, c := range s.ClosedSpecifications {
		c.MarkDeleted()
	}
}

func (c *ClosedSpecification) MarkDeleted() {
	c.State = Deleted
	for _, v := range c.Values {
		v.State = Deleted
	}
}

// WithoutDeleted returns a copy of the main category holding only active descendants.
func (m *MainCategory) WithoutDeleted() *MainCategory {
	out := &MainCategory{Name: m.Name, State: m.State, Categories: []*Category{}}
	for _, c := range m.Categories {
		if c.State.IsDeleted() {
			continue
		}
		cc := &Category{Key: c.Key, Name: c.Name, State: c.State, Subcategories: []*Subcategory{}}
		for _, s := range c.Subcategories {
			if s.State.IsDeleted() {
				continue
			}
			cc.Subcategories = append(cc.Subcategories, s.WithoutDeleted())
		}
		out.Categories = append(out.Categories, cc)
	}
	return out
}

// WithoutDeleted returns a copy of the subcategory holding only active specifications and values.
func (s *Subcategory) WithoutDeleted() *Subcategory {
	out := NewSubcategory(s.Key)
	out.Name = s.Name
	out.State = s.State
	for _, o := range s.OpenSpecifications {
		if !o.State.IsDeleted() {
			out.OpenSpecifications = append(out.OpenSpecifications, &OpenSpecification{Name: o.Name})
		}
	}
	for _, c := range s.ClosedSpecifications {
		if c.State.IsDeleted() {
			continue
		}
		cc := &ClosedSpecification{Name: c.Name, Values: []*ClosedSpecificationValue{}}
		if c.Filter != nil {
			cc.Filter = &Filter{Title: c.Filter.Title}
		}
		for _, v := range c.Values {
			if !v.State.IsDeleted() {
				cc.Values = append(cc.Values, &ClosedSpecificationValue{Value: v.Value})
			}
		}
		out.ClosedSpecifications = append(out.ClosedSpecifications, cc)
	}
	return out
}
