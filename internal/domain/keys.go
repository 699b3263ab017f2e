package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds every segment of a natural key, in characters.
const MaxNameLength = 100

// CategoryKey identifies a category inside its main category.
type CategoryKey struct {
	Main     string `json:"main_category"`
	Category string `json:"category"`
}

// SubcategoryKey is the full name chain of a subcategory.
type SubcategoryKey struct {
	Main        string `json:"main_category"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// SpecificationKey is the name chain of an open or closed specification.
type SpecificationKey struct {
	SubcategoryKey
	Name string `json:"name"`
}

func (k CategoryKey) Validate() error {
	return validateSegments(k.Main, k.Category)
}

func (k CategoryKey) String() string {
	return k.Main + "/" + k.Category
}

func (k SubcategoryKey) Validate() error {
	return validateSegments(k.Main, k.Category, k.Subcategory)
}

// Parent returns the key of the owning category.
func (k SubcategoryKey) Parent() CategoryKey {
	return CategoryKey{Main: k.Main, Category: k.Category}
}

func (k SubcategoryKey) String() string {
	return k.Main + "/" + k.Category + "/" + k.Subcategory
}

func (k SubcategoryKey) Specification(name string) SpecificationKey {
	return SpecificationKey{SubcategoryKey: k, Name: name}
}

// ValidateName checks a single natural-key segment.
func ValidateName(name string) error {
	return validateSegments(name)
}

func validateSegments(segments ...string) error {
	for _, s := range segments {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty name segment", ErrValidation)
		}
		if utf8.RuneCountInString(s) > MaxNameLength {
			return fmt.Errorf("%w: name %q exceeds %d characters", ErrValidation, s, MaxNameLength)
		}
	}
	return nil
}
