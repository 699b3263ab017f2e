package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a catalog item with an append-only version history.
type Product struct {
	ID          uuid.UUID       `json:"id"`
	Subcategory SubcategoryKey  `json:"subcategory"`
	State       Lifecycle       `json:"deleted"`
	CreatedAt   time.Time       `json:"created_at"`
	Latest      *ProductVersion `json:"latest,omitempty"`
}

// ProductVersion is a snapshot of a product at one edit.
type ProductVersion struct {
	ProductID    uuid.UUID         `json:"product_id"`
	Version      int               `json:"version"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Price        decimal.Decimal   `json:"price"`
	Images       []string          `json:"images"`
	OpenValues   map[string]string `json:"open_values"`
	ClosedValues map[string]string `json:"closed_values"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ProductInput carries the editable fields of a product.
// OpenValues and ClosedValues are keyed by specification name.
type ProductInput struct {
	Name         string            `json:"name" validate:"required,max=255"`
	Description  string            `json:"description" validate:"max=5000"`
	Price        decimal.Decimal   `json:"price"`
	Images       []string          `json:"images" validate:"dive,url"`
	OpenValues   map[string]string `json:"open_values"`
	ClosedValues map[string]string `json:"closed_values"`
}

// NextVersion builds the version following v from the given input.
func (v *ProductVersion) NextVersion(in ProductInput, now time.Time) *ProductVersion {
	return &ProductVersion{
		ProductID:    v.ProductID,
		Version:      v.Version + 1,
		Name:         in.Name,
		Description:  in.Description,
		Price:        in.Price,
		Images:       in.Images,
		OpenValues:   in.OpenValues,
		ClosedValues: in.ClosedValues,
		CreatedAt:    now,
	}
}

// Input returns the editable fields of the version, copying slices and maps.
func (v *ProductVersion) Input() ProductInput {
	in := ProductInput{
		Name:         v.Name,
		Description:  v.Description,
		Price:        v.Price,
		Images:       append([]string(nil), v.Images...),
		OpenValues:   make(map[string]string, len(v.OpenValues)),
		ClosedValues: make(map[string]string, len(v.ClosedValues)),
	}
	for k, val := range v.OpenValues {
		in.OpenValues[k] = val
	}
	for k, val := range v.ClosedValues {
		in.ClosedValues[k] = val
	}
	return in
}
