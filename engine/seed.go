package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/manifest"
)

// seedUpsertConcurrency bounds the parallel manifest upserts in the
// first seeding phase.
const seedUpsertConcurrency = 8

// Seed persists every registered manifest definition and reconciles
// the store with the declared set:
//
//  1. Groups are created for any group name not yet stored. An existing
//     group keeps its stored priority, cap, and enabled flag.
//  2. All manifests are upserted concurrently, dependency links left
//     unset. Upserting preserves the stored ID, enabled flag, and last
//     successful run.
//  3. Dependency links are resolved by parent external ID and written
//     in a second sequential pass, then every manifest is validated and
//     checked against the workflow registry.
//  4. The cross-group dependency graph is checked for cycles.
//  5. Manifests and groups no longer declared are removed.
//
// Start calls Seed after Migrate; it is exported so embedding
// applications that manage their own lifecycle can call it directly.
func (eng *Engine) Seed(ctx context.Context) error {
	if err := eng.checkRegistrations(); err != nil {
		return err
	}

	groupIDs, err := eng.seedGroups(ctx)
	if err != nil {
		return err
	}

	// Phase one: every manifest lands without its dependency link, so
	// parents and children can be written in any order.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedUpsertConcurrency)
	for _, s := range eng.seeds {
		g.Go(func() error {
			m := *s.m
			m.GroupID = groupIDs[s.groupName]
			m.DependsOn = id.Nil
			if err := eng.store.UpsertManifest(gctx, &m); err != nil {
				return fmt.Errorf("seed manifest %q: %w", m.ExternalID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Phase two: resolve parents against the now-complete set and link.
	if err := eng.linkDependencies(ctx, groupIDs); err != nil {
		return err
	}

	manifests, err := eng.store.ListManifests(ctx)
	if err != nil {
		return fmt.Errorf("list manifests: %w", err)
	}
	groups, err := eng.store.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	if err := manifest.ValidateGroupDAG(manifests, groups); err != nil {
		return err
	}

	return eng.pruneUndeclared(ctx)
}

// checkRegistrations fails fast on definitions that could never run:
// an unregistered workflow or a dependent without a parent.
func (eng *Engine) checkRegistrations() error {
	for _, s := range eng.seeds {
		if !eng.registry.Has(s.m.WorkflowName) {
			return fmt.Errorf("%w: manifest %q names workflow %q",
				manifold.ErrWorkflowNotRegistered, s.m.ExternalID, s.m.WorkflowName)
		}
		if s.m.IsDependent() && s.parentExternal == "" {
			return fmt.Errorf("manifest %q: %s schedule requires DependsOn", s.m.ExternalID, s.m.Schedule)
		}
	}
	return nil
}

// seedGroups ensures every declared group exists and returns name → ID.
// The first definition naming a new group sets its priority and cap;
// an already-stored group is left untouched so operator changes stick.
func (eng *Engine) seedGroups(ctx context.Context) (map[string]id.GroupID, error) {
	groupIDs := make(map[string]id.GroupID)
	for _, s := range eng.seeds {
		if _, done := groupIDs[s.groupName]; done {
			continue
		}

		g, err := eng.store.GetGroupByName(ctx, s.groupName)
		switch {
		case err == nil:
			groupIDs[s.groupName] = g.ID
			continue
		case !errors.Is(err, manifold.ErrGroupNotFound):
			return nil, fmt.Errorf("look up group %q: %w", s.groupName, err)
		}

		g = &manifest.Group{
			Entity:        manifold.NewEntity(),
			ID:            id.NewGroupID(),
			Name:          s.groupName,
			Priority:      s.groupPriority,
			MaxActiveJobs: s.groupMaxActive,
			Enabled:       true,
		}
		if err := eng.store.UpsertGroup(ctx, g); err != nil {
			return nil, fmt.Errorf("seed group %q: %w", s.groupName, err)
		}
		groupIDs[s.groupName] = g.ID
		eng.logger.Info("group created",
			slog.String("group", s.groupName),
			slog.Int("priority", s.groupPriority))
	}
	return groupIDs, nil
}

// linkDependencies writes DependsOn for dependent seeds and validates
// the final shape of every declared manifest.
func (eng *Engine) linkDependencies(ctx context.Context, groupIDs map[string]id.GroupID) error {
	for _, s := range eng.seeds {
		stored, err := eng.store.GetManifestByExternalID(ctx, s.m.ExternalID)
		if err != nil {
			return fmt.Errorf("reload manifest %q: %w", s.m.ExternalID, err)
		}

		if s.parentExternal != "" {
			parent, err := eng.store.GetManifestByExternalID(ctx, s.parentExternal)
			if err != nil {
				return fmt.Errorf("manifest %q: resolve parent %q: %w", s.m.ExternalID, s.parentExternal, err)
			}
			stored.DependsOn = parent.ID
			if err := eng.store.UpsertManifest(ctx, stored); err != nil {
				return fmt.Errorf("link manifest %q: %w", s.m.ExternalID, err)
			}
		}

		if err := stored.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// pruneUndeclared drops manifests no definition claims anymore, then
// groups left with no members. Runtime state referencing a pruned
// manifest is handled by the store's delete semantics.
func (eng *Engine) pruneUndeclared(ctx context.Context) error {
	keep := make([]string, 0, len(eng.seeds))
	for _, s := range eng.seeds {
		keep = append(keep, s.m.ExternalID)
	}

	deleted, err := eng.store.DeleteManifestsNotIn(ctx, keep)
	if err != nil {
		return fmt.Errorf("prune manifests: %w", err)
	}
	if deleted > 0 {
		eng.logger.Info("pruned undeclared manifests", slog.Int64("deleted", deleted))
	}

	orphans, err := eng.store.DeleteOrphanGroups(ctx)
	if err != nil {
		return fmt.Errorf("prune groups: %w", err)
	}
	if orphans > 0 {
		eng.logger.Info("pruned empty groups", slog.Int64("deleted", orphans))
	}
	return nil
}
