package migrate

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/chmdznr/case-attachment-migrator/internal/store"
	"github.com/chmdznr/case-attachment-migrator/pkg/models"
	"github.com/chmdznr/case-attachment-migrator/pkg/utils"
)

// Reconciler decides which source file versions are missing from a
// destination case.
type Reconciler struct {
	source ContentStore
}

func NewReconciler(source ContentStore) *Reconciler {
	return &Reconciler{source: source}
}

type fileKey struct {
	title     string
	extension string
}

// Plan is the reconciliation result for one case pair.
type Plan struct {
	// Transfers are the versions to move, in source link order.
	Transfers []models.FileVersion
	// Present are the versions that already exist on the destination case.
	Present []models.FileVersion
}

// PlanTransfers returns the latest versions of the source case's files that
// have no title and extension match on the destination case, in link order.
func (r *Reconciler) PlanTransfers(ctx context.Context, source, destination models.Case) ([]models.FileVersion, error) {
	plan, err := r.Plan(ctx, source, destination)
	if err != nil {
		return nil, err
	}
	return plan.Transfers, nil
}

// Plan reconciles a case pair. Links without a latest version are skipped.
// A version planned earlier for the same pair counts as present for later
// links.
func (r *Reconciler) Plan(ctx context.Context, source, destination models.Case) (*Plan, error) {
	log := zerolog.Ctx(ctx)
	planned := make(map[fileKey]bool)

	plan := &Plan{}
	for _, link := range source.Links {
		latest, err := r.source.LatestVersion(ctx, link.Document.ID)
		if errors.Is(err, store.ErrNotFound) {
			log.Debug().Str("document", link.Document.ID).Msg("no latest version, skipping link")
			continue
		}
		if err != nil {
			return nil, errors.Errorf("resolving latest version of %s: %w", link.Document.ID, err)
		}

		key := fileKey{title: latest.Title, extension: latest.Extension}
		if planned[key] || existsOn(destination, key) {
			log.Info().
				Str("file", utils.NormalizeName(latest.Title, latest.Extension)).
				Str("case", destination.CaseNumber).
				Msg("file already exists on destination case")
			plan.Present = append(plan.Present, *latest)
			continue
		}
		planned[key] = true
		plan.Transfers = append(plan.Transfers, *latest)
	}
	return plan, nil
}

// existsOn reports whether any document linked to c matches key on
// extension and on either the raw or the normalized title. Migrated files
// carry normalized titles. A case without a link collection has no files.
func existsOn(c models.Case, key fileKey) bool {
	normalized := utils.NormalizeTitle(key.title)
	for _, link := range c.Links {
		d := link.Document
		if d.Extension != key.extension {
			continue
		}
		if d.Title == key.title || d.Title == normalized {
			return true
		}
	}
	return false
}
