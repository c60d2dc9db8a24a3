package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/secinto/go-csp-policy/config"
)

// Seed stores the configured policies with their directives and page links.
// defaultLevel applies to seeds without a minimum CSP level.
func Seed(ctx context.Context, s Store, seeds []config.PolicySeed, defaultLevel int) error {
	for _, seed := range seeds {
		p := seed.Policy(defaultLevel)
		if err := s.SavePolicy(ctx, p); err != nil {
			return errors.Wrapf(err, "seeding policy %q", seed.Title)
		}
		for _, ds := range seed.Directives {
			d := ds.Directive()
			if err := s.SaveDirective(ctx, d); err != nil {
				return errors.Wrapf(err, "seeding directive %s of %q", ds.Key, seed.Title)
			}
			if err := s.LinkDirective(ctx, p.ID, d.ID); err != nil {
				return errors.Wrapf(err, "seeding directive %s of %q", ds.Key, seed.Title)
			}
		}
		for _, page := range seed.Pages {
			if err := s.LinkPage(ctx, page, p.ID); err != nil {
				return errors.Wrapf(err, "linking page %s to %q", page, seed.Title)
			}
		}
	}
	return nil
}
