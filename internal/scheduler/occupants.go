package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Occupants is the set of user IDs attached to a reservation. Values are
// immutable: With returns a new set.
type Occupants struct {
	set mapset.Set[string]
}

// NewOccupants builds a set from ids, ignoring blanks and duplicates.
func NewOccupants(ids ...string) Occupants {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set.Add(id)
		}
	}
	return Occupants{set: set}
}

// With returns a copy of o that also contains id.
func (o Occupants) With(id string) Occupants {
	return NewOccupants(append(o.IDs(), id)...)
}

// Contains reports whether id is an occupant.
func (o Occupants) Contains(id string) bool {
	return o.set != nil && id != "" && o.set.Contains(id)
}

// Len returns the number of occupants.
func (o Occupants) Len() int {
	if o.set == nil {
		return 0
	}
	return o.set.Cardinality()
}

// IsEmpty reports whether the set has no members.
func (o Occupants) IsEmpty() bool {
	return o.Len() == 0
}

// IDs returns the members in ascending order.
func (o Occupants) IDs() []string {
	if o.set == nil {
		return []string{}
	}
	ids := o.set.ToSlice()
	slices.Sort(ids)
	return ids
}

// Equal reports whether both sets hold the same members.
func (o Occupants) Equal(other Occupants) bool {
	if o.Len() != other.Len() {
		return false
	}
	return o.Len() == 0 || o.set.Equal(other.set)
}

// MarshalJSON encodes the set as a sorted JSON array.
func (o Occupants) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.IDs())
}

// UnmarshalJSON accepts an array of strings or numbers. Numeric IDs are kept
// in their decimal form.
func (o *Occupants) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = NewOccupants()
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("occupants: %w", err)
	}
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			ids = append(ids, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return fmt.Errorf("occupants: unsupported member %s", string(item))
		}
		ids = append(ids, n.String())
	}
	*o = NewOccupants(ids...)
	return nil
}
