package core

import (
	"sort"
	"strings"
)

// Category is a compiled-in spending/income category.
type Category struct {
	ID   int
	Name string
}

// categories is the static registry; IDs are persisted on transactions and
// budgets and must never be renumbered.
var categories = map[int]string{
	1:  "Food & Dining",
	2:  "Groceries",
	3:  "Transportation",
	4:  "Shopping",
	5:  "Entertainment",
	6:  "Bills & Utilities",
	7:  "Rent",
	8:  "Health",
	9:  "Education",
	10: "Travel",
	11: "Gifts & Donations",
	12: "Salary",
	13: "Investments",
	14: "Other",
}

// CategoryName returns the display name for id.
func CategoryName(id int) (string, bool) {
	name, ok := categories[id]
	return name, ok
}

// CategoryLabel is CategoryName with a fallback for unknown ids.
func CategoryLabel(id int) string {
	if name, ok := categories[id]; ok {
		return name
	}
	return "Unknown"
}

// CategoryByName looks a category up by case-insensitive name.
func CategoryByName(name string) (Category, bool) {
	name = strings.TrimSpace(name)
	for id, n := range categories {
		if strings.EqualFold(n, name) {
			return Category{ID: id, Name: n}, true
		}
	}
	return Category{}, false
}

func ValidCategory(id int) bool {
	_, ok := categories[id]
	return ok
}

// Categories returns the registry ordered by id.
func Categories() []Category {
	out := make([]Category, 0, len(categories))
	for id, name := range categories {
		out = append(out, Category{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
