package models

const (
	// UncategorizedCategory names a section whose category cannot be resolved.
	UncategorizedCategory = "Uncategorized-Category"
	// Uncategorized names the category of an article whose section is unknown.
	Uncategorized = "Uncategorized"
	// UncategorizedSection names the section of an article whose section is unknown.
	UncategorizedSection = "Uncategorized-Section"
)

// Hierarchy maps sections to their own name and to their category name.
type Hierarchy struct {
	SectionNames      map[int64]string
	SectionCategories map[int64]string
}

// NewHierarchy returns an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		SectionNames:      make(map[int64]string),
		SectionCategories: make(map[int64]string),
	}
}

// Resolve returns the category and section names for an article's section.
// Unknown or missing sections resolve to the article-level sentinels.
func (h *Hierarchy) Resolve(sectionID *int64) (category, section string) {
	category, section = Uncategorized, UncategorizedSection
	if h == nil || sectionID == nil {
		return category, section
	}
	if name, ok := h.SectionCategories[*sectionID]; ok {
		category = name
	}
	if name, ok := h.SectionNames[*sectionID]; ok {
		section = name
	}
	return category, section
}
