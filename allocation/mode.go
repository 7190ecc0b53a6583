package allocation

import (
	"fmt"
	"sort"
	"strings"

	"parking-admission/inventory"
)

// Mode selects how vehicle size maps to compatible slot sizes.
type Mode string

const (
	// ModeStrict admits a vehicle only into a slot of exactly its size.
	ModeStrict Mode = "strict"
	// ModeHierarchical admits a vehicle into any slot of equal or larger size.
	ModeHierarchical Mode = "hierarchical"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeStrict, nil
	case ModeStrict, ModeHierarchical:
		return m, nil
	default:
		return "", fmt.Errorf("unknown slot match mode %q", s)
	}
}

// Eligible reports whether a slot of size slot may hold a vehicle of size vehicle.
func (m Mode) Eligible(slot, vehicle inventory.SizeClass) bool {
	if !slot.Valid() || !vehicle.Valid() {
		return false
	}
	if m == ModeHierarchical {
		return slot.Rank() >= vehicle.Rank()
	}
	return slot == vehicle
}

// EligibleFree filters slots down to free ones the vehicle fits under m.
func EligibleFree(slots []inventory.Slot, vehicle inventory.SizeClass, m Mode) []inventory.Slot {
	var out []inventory.Slot
	for _, s := range slots {
		if s.Status == inventory.StatusFree && m.Eligible(s.Size, vehicle) {
			out = append(out, s)
		}
	}
	return out
}

// Nearest picks the slot with the smallest distance, lowest id on ties.
func Nearest(slots []inventory.Slot) (int, bool) {
	if len(slots) == 0 {
		return 0, false
	}
	sorted := append([]inventory.Slot(nil), slots...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Distance != sorted[j].Distance {
			return sorted[i].Distance < sorted[j].Distance
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0].ID, true
}
