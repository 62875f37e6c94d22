package protocol

import (
	"fmt"

	"cafesync/internal/model"
)

// CatalogUpdate is the complete catalog. Receivers replace their mirror;
// there are no deltas.
type CatalogUpdate struct {
	Items []model.CatalogItem
}

func (CatalogUpdate) Kind() Kind { return KindCatalog }

func (c CatalogUpdate) Validate() error {
	seen := make(map[string]struct{}, len(c.Items))
	for _, it := range c.Items {
		if err := it.Validate(); err != nil {
			return err
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("catalog: duplicate item %s", it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}

// PresentationUpdate is the complete presentation profile.
type PresentationUpdate struct {
	Profile model.PresentationProfile
}

func (PresentationUpdate) Kind() Kind        { return KindPresentation }
func (p PresentationUpdate) Validate() error { return p.Profile.Validate() }
