package domain

import (
	"encoding/json"
)

// Lifecycle is the soft-delete state of a catalog entity.
type Lifecycle uint8

const (
	Active Lifecycle = iota
	Deleted
)

// LifecycleOf converts a stored deleted flag into a Lifecycle.
func LifecycleOf(deleted bool) Lifecycle {
	if deleted {
		return Deleted
	}
	return Active
}

func (l Lifecycle) IsDeleted() bool {
	return l == Deleted
}

func (l Lifecycle) String() string {
	if l == Deleted {
		return "deleted"
	}
	return "active"
}

// MarshalJSON keeps the wire format a plain boolean, as the SPA clients expect.
func (l Lifecycle) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.IsDeleted())
}

func (l *Lifecycle) UnmarshalJSON(data []byte) error {
	var deleted bool
	if err := json.Unmarshal(data, &deleted); err != nil {
		return err
	}
	*l = LifecycleOf(deleted)
	return nil
}
