package query

import (
	"golang.org/x/xerrors"

	"go.dedis.ch/sealedsurvey"
)

func noResponses(category string) error {
	return xerrors.Errorf("category %s: %w", category, sealedsurvey.ErrNoResponses)
}

func notAggregated(category string) error {
	return xerrors.Errorf("category %s has no stats: %w", category, sealedsurvey.ErrNotFound)
}
