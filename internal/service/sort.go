package service

import (
	"cmp"
	"slices"
	"strings"
)

// SortKey orders the building list.
type SortKey string

const (
	SortByArea   SortKey = "area"   // largest first
	SortByName   SortKey = "name"   // alphabetical
	SortByFloors SortKey = "floors" // tallest first
)

// SortBuildings returns a sorted copy of list. Unknown keys sort by area.
// Equal elements keep their backend order.
func SortBuildings(list []Building, key SortKey) []Building {
	out := slices.Clone(list)
	switch key {
	case SortByName:
		slices.SortStableFunc(out, func(a, b Building) int {
			return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		})
	case SortByFloors:
		slices.SortStableFunc(out, func(a, b Building) int {
			return cmp.Compare(b.Floors, a.Floors)
		})
	default:
		slices.SortStableFunc(out, func(a, b Building) int {
			return cmp.Compare(b.Area, a.Area)
		})
	}
	return out
}
