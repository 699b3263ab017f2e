package service

import (
	"storefront-catalog/internal/domain"

	"github.com/samber/lo"
)

// ReconcileResult counts what Reconcile changed.
type ReconcileResult struct {
	Revived        int `json:"revived"`
	Deleted        int `json:"deleted"`
	Created        int `json:"created"`
	FiltersAdded   int `json:"filters_added"`
	FiltersRemoved int `json:"filters_removed"`
}

func (r *ReconcileResult) track(from, to domain.Lifecycle) {
	switch {
	case from == domain.Deleted && to == domain.Active:
		r.Revived++
	case from == domain.Active && to == domain.Deleted:
		r.Deleted++
	}
}

// Reconcile merges the desired state into the persisted subcategory tree in place.
//
// Persisted entries are matched to desired entries by exact name. A persisted
// entry that is missing from the desired state, or flagged deleted there, is
// marked deleted; otherwise it is marked active. Desired entries with no
// persisted match and not flagged deleted are appended as new active entries.
// Nothing is ever removed from the tree except a filter that is no longer
// supplied. The subcategory itself is always revived.
func Reconcile(current *domain.Subcategory, desired domain.SubcategoryUpdate) ReconcileResult {
	var res ReconcileResult

	res.track(current.State, domain.Active)
	current.State = domain.Active
	reconcileOpen(current, desired.OpenSpecifications, &res)
	reconcileClosed(current, desired.ClosedSpecifications, &res)

	return res
}

func stateFor(present, deleted bool) domain.Lifecycle {
	if !present || deleted {
		return domain.Deleted
	}
	return domain.Active
}

func reconcileOpen(current *domain.Subcategory, desired []domain.OpenSpecificationInput, res *ReconcileResult) {
	desired = lo.UniqBy(desired, func(in domain.OpenSpecificationInput) string { return in.Name })
	wanted := lo.KeyBy(desired, func(in domain.OpenSpecificationInput) string { return in.Name })
	persisted := lo.KeyBy(current.OpenSpecifications, func(s *domain.OpenSpecification) string { return s.Name })

	for _, spec := range current.OpenSpecifications {
		in, ok := wanted[spec.Name]
		next := stateFor(ok, in.Deleted)
		res.track(spec.State, next)
		spec.State = next
	}

	for _, in := range desired {
		if _, ok := persisted[in.Name]; ok || in.Deleted {
			continue
		}
		current.OpenSpecifications = append(current.OpenSpecifications, &domain.OpenSpecification{Name: in.Name})
		res.Created++
	}
}

func reconcileClosed(current *domain.Subcategory, desired []domain.ClosedSpecificationInput, res *ReconcileResult) {
	desired = lo.UniqBy(desired, func(in domain.ClosedSpecificationInput) string { return in.Name })
	wanted := lo.KeyBy(desired, func(in domain.ClosedSpecificationInput) string { return in.Name })
	persisted := lo.KeyBy(current.ClosedSpecifications, func(s *domain.ClosedSpecification) string { return s.Name })

	for _, spec := range current.ClosedSpecifications {
		in, ok := wanted[spec.Name]
		next := stateFor(ok, in.Deleted)
		res.track(spec.State, next)

		if next == domain.Deleted {
			// A deleted specification takes its values and its filter with it.
			for _, v := range spec.Values {
				res.track(v.State, domain.Deleted)
			}
			spec.MarkDeleted()
			reconcileFilter(spec, nil, res)
			continue
		}

		spec.State = domain.Active
		reconcileValues(spec, in.Values, res)
		reconcileFilter(spec, in.Filter, res)
	}

	for _, in := range desired {
		if _, ok := persisted[in.Name]; ok || in.Deleted {
			continue
		}
		spec := &domain.ClosedSpecification{Name: in.Name, Values: []*domain.ClosedSpecificationValue{}}
		res.Created++
		reconcileValues(spec, in.Values, res)
		reconcileFilter(spec, in.Filter, res)
		current.ClosedSpecifications = append(current.ClosedSpecifications, spec)
	}
}

func reconcileValues(spec *domain.ClosedSpecification, desired []domain.ClosedValueInput, res *ReconcileResult) {
	desired = lo.UniqBy(desired, func(in domain.ClosedValueInput) string { return in.Value })
	wanted := lo.KeyBy(desired, func(in domain.ClosedValueInput) string { return in.Value })
	persisted := lo.KeyBy(spec.Values, func(v *domain.ClosedSpecificationValue) string { return v.Value })

	for _, v := range spec.Values {
		in, ok := wanted[v.Value]
		next := stateFor(ok, in.Deleted)
		res.track(v.State, next)
		v.State = next
	}

	for _, in := range desired {
		if _, ok := persisted[in.Value]; ok || in.Deleted {
			continue
		}
		spec.Values = append(spec.Values, &domain.ClosedSpecificationValue{Value: in.Value})
		res.Created++
	}
}

// reconcileFilter only creates or removes. The title of a filter that exists
// on both sides is left as persisted.
func reconcileFilter(spec *domain.ClosedSpecification, desired *domain.FilterInput, res *ReconcileResult) {
	switch {
	case spec.Filter != nil && desired == nil:
		spec.Filter = nil
		res.FiltersRemoved++
	case spec.Filter == nil && desired != nil:
		spec.Filter = &domain.Filter{Title: desired.Title}
		res.FiltersAdded++
	}
}
