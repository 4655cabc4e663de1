package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/id"
	"github.com/shelfsync/shelfsync/internal/sortkey"
)

// RootInput describes a root to register.
type RootInput struct {
	Name       string            `json:"name" validate:"required,max=200"`
	URI        string            `json:"uri" validate:"required,root_uri"`
	SourceKind domain.SourceKind `json:"source_kind" validate:"required,source_kind"`
	AutoSync   bool              `json:"auto_sync"`
	Permission domain.Permission `json:"permission"`
}

// RegisterRoot validates in and stores a new root. The id is derived from
// the URI, so registering the same location twice fails with AlreadyExists.
func (o *Orchestrator) RegisterRoot(ctx context.Context, in RootInput) (*domain.LibraryRoot, error) {
	if err := o.validator.Validate(in); err != nil {
		return nil, err
	}

	uri := strings.TrimSuffix(in.URI, "/")
	now := time.Now()
	perm := in.Permission
	if perm.GrantedAt.IsZero() {
		perm.GrantedAt = now
	}
	perm.VerifiedAt = now

	root := &domain.LibraryRoot{
		ID:              id.Root(uri),
		Name:            strings.TrimSpace(in.Name),
		URI:             uri,
		SourceKind:      in.SourceKind,
		Permission:      perm,
		AutoSyncEnabled: in.AutoSync,
		SortKey:         sortkey.Key(in.Name),
		CreatedAt:       now,
	}
	if err := o.index.CreateRoot(ctx, root); err != nil {
		return nil, err
	}

	o.logger.Info("root registered",
		"root_id", root.ID,
		"source_kind", root.SourceKind,
		"scannable", root.Scannable(),
	)
	return root, nil
}

// GetRoot returns one root.
func (o *Orchestrator) GetRoot(ctx context.Context, rootID string) (*domain.LibraryRoot, error) {
	return o.index.GetRoot(ctx, rootID)
}

// ListRoots returns every root in display order.
func (o *Orchestrator) ListRoots(ctx context.Context) ([]*domain.LibraryRoot, error) {
	return o.index.ListRoots(ctx)
}

// RefreshPermission records a re-verified grant. Losing access cancels
// whatever is running for the root.
func (o *Orchestrator) RefreshPermission(ctx context.Context, rootID string, perm domain.Permission) (*domain.LibraryRoot, error) {
	perm.VerifiedAt = time.Now()
	if err := o.index.UpdateRootPermission(ctx, rootID, perm); err != nil {
		return nil, err
	}

	if !perm.IsValid() {
		o.logger.Warn("root permission lost", "root_id", rootID, "can_read", perm.CanRead, "persisted", perm.Persisted)
		o.CancelSync(rootID)
	}
	return o.index.GetRoot(ctx, rootID)
}

// DeleteRoot cancels the root's sync and scrapes, waits for the sync to
// unwind, then removes the root and everything under it. Scrapes enqueued
// while the sync unwound are cancelled once the root is gone.
func (o *Orchestrator) DeleteRoot(ctx context.Context, rootID string) error {
	o.CancelSync(rootID)
	if err := o.waitIdle(ctx, rootID); err != nil {
		return err
	}

	lock := o.applyLock(rootID)
	lock.Lock()
	comicIDs, err := o.index.DeleteRoot(ctx, rootID)
	lock.Unlock()
	if err != nil {
		return err
	}
	o.applyLocks.Delete(rootID)

	// the cancelled sync may have enqueued scrapes before it unwound
	if o.queue != nil {
		if n := o.queue.CancelForRoot(rootID); n > 0 {
			o.logger.Info("late scrapes cancelled", "root_id", rootID, "scrapes_cancelled", n)
		}
	}

	if o.journal != nil {
		if err := o.journal.DeleteTasksForRoot(ctx, rootID); err != nil {
			o.logger.Warn("failed to delete task history", "root_id", rootID, "error", err)
		}
	}

	o.logger.Info("root deleted", "root_id", rootID, "comics", len(comicIDs))
	return nil
}

// SyncAllRoots syncs every auto-sync root, at most cfg.MaxConcurrentRoots
// at a time. One root's failure never affects another: results of
// successful roots are returned together with the joined errors of the
// failed ones. Unreadable roots and roots already syncing are skipped.
func (o *Orchestrator) SyncAllRoots(ctx context.Context, scanType domain.ScanType, cfg *SyncConfig) ([]*domain.SyncResult, error) {
	c := o.cfg
	if cfg != nil {
		c = cfg.withDefaults()
	}

	roots, err := o.index.ListRoots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}

	eligible := make([]*domain.LibraryRoot, 0, len(roots))
	for _, r := range roots {
		switch {
		case !r.AutoSyncEnabled:
		case !r.Scannable():
			o.logger.Warn("skipping unreadable root", "root_id", r.ID)
		default:
			eligible = append(eligible, r)
		}
	}

	results := make([]*domain.SyncResult, len(eligible))
	errs := make([]error, len(eligible))

	var g errgroup.Group
	g.SetLimit(c.MaxConcurrentRoots)
	for i, r := range eligible {
		g.Go(func() error {
			res, err := o.SyncRoot(ctx, r.ID, scanType, &c)
			switch {
			case err == nil:
				results[i] = res
			case domainerrors.Is(err, domainerrors.ErrConflict):
				o.logger.Info("root already syncing, skipped", "root_id", r.ID)
			default:
				errs[i] = fmt.Errorf("root %s: %w", r.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*domain.SyncResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, res)
		}
	}

	joined := errors.Join(errs...)
	o.logger.Info("all roots synced",
		"scan_type", scanType,
		"roots", len(eligible),
		"succeeded", len(out),
		"failed", countErrors(errs),
	)
	return out, joined
}

func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
