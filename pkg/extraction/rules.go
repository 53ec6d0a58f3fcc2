package extraction

import "strings"

// CategoryDescription pairs a category name with the description shown to
// classifying models.
type CategoryDescription struct {
	Name        string
	Description string
}

// DefaultCategories is the standard category set.
var DefaultCategories = []CategoryDescription{
	{"preferences", "User preferences, settings, and personal choices"},
	{"facts", "Factual information about the user or their environment"},
	{"events", "Past or scheduled events, activities, appointments"},
	{"relationships", "People, organizations, and their connections"},
	{"skills", "Abilities, expertise, knowledge areas"},
	{"goals", "Objectives, plans, aspirations"},
}

// ValidCategory reports whether name is one of the default categories.
func ValidCategory(name string) bool {
	for _, c := range DefaultCategories {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Classify assigns a category from predicate keywords. It is the
// deterministic fallback when no model is configured or a model returns an
// unknown category.
func Classify(predicate string) string {
	p := strings.ToLower(predicate)

	contains := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(p, w) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("prefer", "like", "want", "use"):
		return "preferences"
	case contains("know", "met", "friend", "colleague"):
		return "relationships"
	case contains("can", "skill", "expert", "learn"):
		return "skills"
	case contains("plan", "goal", "want to", "will"):
		return "goals"
	case contains("attend", "schedule", "meet", "event"):
		return "events"
	default:
		return "facts"
	}
}
