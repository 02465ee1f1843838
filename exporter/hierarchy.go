package exporter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/kb-backup/models"
)

// TaxonomyLister lists the two taxonomy levels of the help center.
type TaxonomyLister interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	ListSections(ctx context.Context) ([]models.Section, error)
}

// BuildHierarchy resolves every section to its own name and its category's
// name. Sections whose category is missing or unknown get
// models.UncategorizedCategory.
func BuildHierarchy(ctx context.Context, lister TaxonomyLister) (*models.Hierarchy, error) {
	slog.Info("mapping help center hierarchy")

	categories, err := lister.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	categoryNames := make(map[int64]string, len(categories))
	for _, c := range categories {
		categoryNames[c.ID] = c.Name
	}

	sections, err := lister.ListSections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}

	h := models.NewHierarchy()
	for _, s := range sections {
		h.SectionNames[s.ID] = s.Name
		category := models.UncategorizedCategory
		if s.CategoryID != nil {
			if name, ok := categoryNames[*s.CategoryID]; ok {
				category = name
			}
		}
		h.SectionCategories[s.ID] = category
	}

	slog.Debug("hierarchy mapped",
		slog.Int("categories", len(categories)),
		slog.Int("sections", len(sections)),
	)
	return h, nil
}
