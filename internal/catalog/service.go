package catalog

import (
	"context"

	"golang.org/x/sync/singleflight"

	"cafepos/m/domain"
)

// Menu groups categories with their sellable items.
type Menu struct {
	Categories []domain.Category `json:"categories"`
	Items      []domain.MenuItem `json:"items"`
}

// Service serves reference data to POS terminals. Terminals tend to load the
// menu at the same moment (shift start), so concurrent loads share one query.
type Service struct {
	*Repository
	sfg singleflight.Group
}

func NewService(repo *Repository) *Service {
	return &Service{Repository: repo}
}

func (s *Service) Menu(ctx context.Context) (Menu, error) {
	v, err, _ := s.sfg.Do("menu", func() (interface{}, error) {
		categories, err := s.ListCategories(ctx)
		if err != nil {
			return nil, err
		}
		items, err := s.ListMenuItems(ctx, ItemFilter{OnlyAvailable: true})
		if err != nil {
			return nil, err
		}
		return Menu{Categories: categories, Items: items}, nil
	})
	if err != nil {
		return Menu{}, err
	}
	return v.(Menu), nil
}
