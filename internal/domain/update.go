package domain

// SubcategoryUpdate is the desired state of a subcategory submitted by an employee.
type SubcategoryUpdate struct {
	Name                 string                     `json:"name" validate:"required,max=100"`
	OpenSpecifications   []OpenSpecificationInput   `json:"open_specifications" validate:"dive"`
	ClosedSpecifications []ClosedSpecificationInput `json:"closed_specifications" validate:"dive"`
}

type OpenSpecificationInput struct {
	Name    string `json:"name" validate:"required,max=100"`
	Deleted bool   `json:"deleted"`
}

type ClosedSpecificationInput struct {
	Name    string             `json:"name" validate:"required,max=100"`
	Deleted bool               `json:"deleted"`
	Values  []ClosedValueInput `json:"values" validate:"dive"`
	Filter  *FilterInput       `json:"filter,omitempty" validate:"omitempty"`
}

type ClosedValueInput struct {
	Value   string `json:"value" validate:"required,max=100"`
	Deleted bool   `json:"deleted"`
}

type FilterInput struct {
	Title string `json:"title" validate:"required,max=100"`
}
