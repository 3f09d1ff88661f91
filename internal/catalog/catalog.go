// Package catalog stores package versions keyed by name and normalized
// version.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/store"
	"github.com/git-pkgs/mirror/internal/version"
)

// Kind is the record kind package versions are stored under.
const Kind = "package"

// Download counts live in their own records so refreshes never write them.
const (
	downloadsPrefix = "downloads:"
	countField      = "count"
)

func counterID(identity string) string {
	return downloadsPrefix + identity
}

type Catalog struct {
	records store.Store
	logger  *slog.Logger
}

// New creates a catalog. records should be namespaced to package
// versions, see store.NewPrefixed.
func New(records store.Store, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Catalog{records: records, logger: logger}
}

func byName(name string) store.Criteria {
	return store.Eq{Field: "name", Value: name}
}

// FindVersions returns every version of name keyed by normalized version.
func (c *Catalog) FindVersions(ctx context.Context, name string) (map[string]*core.PackageVersion, error) {
	versions := make(map[string]*core.PackageVersion)
	cursor := ""
	for {
		page, err := c.records.Find(ctx, byName(name), cursor)
		if err != nil {
			return nil, fmt.Errorf("listing versions of %s: %w", name, err)
		}
		for _, rec := range page.Rows {
			pv, err := decode(rec)
			if err != nil {
				return nil, err
			}
			versions[pv.VersionNormalized] = pv
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	counts, err := c.counts(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, pv := range versions {
		pv.Downloads = counts[counterID(pv.Identity())]
	}
	return versions, nil
}

// counts returns the download counters of name keyed by counter id.
func (c *Catalog) counts(ctx context.Context, name string) (map[string]int64, error) {
	counts := make(map[string]int64)
	cursor := ""
	for {
		page, err := c.records.Find(ctx, store.Eq{Field: "package", Value: name}, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing downloads of %s: %w", name, err)
		}
		for _, rec := range page.Rows {
			counts[rec.ID()] = store.Int(rec[countField])
		}
		if page.Cursor == "" {
			return counts, nil
		}
		cursor = page.Cursor
	}
}

func (c *Catalog) downloads(ctx context.Context, identity string) (int64, error) {
	rec, err := c.records.Get(ctx, counterID(identity))
	if err != nil {
		return 0, fmt.Errorf("loading downloads of %s: %w", identity, err)
	}
	return store.Int(rec[countField]), nil
}

// Find returns the version with the given identity, or nil.
func (c *Catalog) Find(ctx context.Context, name, normalized string) (*core.PackageVersion, error) {
	id := core.Identity(name, normalized)
	rec, err := c.records.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	pv, err := decode(rec)
	if err != nil {
		return nil, err
	}
	if pv.Downloads, err = c.downloads(ctx, id); err != nil {
		return nil, err
	}
	return pv, nil
}

// Update upserts pv by identity. The download count is not written and
// pv.Downloads is set to the stored count.
func (c *Catalog) Update(ctx context.Context, pv *core.PackageVersion) error {
	out := *pv
	out.Downloads = 0
	if out.Manifest == nil {
		out.Manifest = core.Manifest{}
	}
	out.Manifest["version"] = out.Version
	out.Manifest["version_normalized"] = out.VersionNormalized

	rec, err := store.Encode(out.Identity(), &out)
	if err != nil {
		return core.E("catalog.update", core.Other, err)
	}
	delete(rec, "downloads")
	if err := c.records.Put(ctx, rec); err != nil {
		return fmt.Errorf("saving %s: %w", out.Identity(), err)
	}
	n, err := c.downloads(ctx, out.Identity())
	if err != nil {
		return err
	}
	pv.Downloads = n
	return nil
}

// Delete removes pv by identity.
func (c *Catalog) Delete(ctx context.Context, pv *core.PackageVersion) error {
	if err := c.records.Deletes(ctx, []string{pv.Identity(), counterID(pv.Identity())}); err != nil {
		return fmt.Errorf("deleting %s: %w", pv.Identity(), err)
	}
	return nil
}

// DeleteAllFor removes one page of versions of name and reports whether
// more remain.
func (c *Catalog) DeleteAllFor(ctx context.Context, name string) (bool, error) {
	page, err := c.records.Find(ctx, byName(name), "")
	if err != nil {
		return false, fmt.Errorf("listing versions of %s: %w", name, err)
	}
	if len(page.Rows) == 0 {
		return false, nil
	}
	ids := make([]string, 0, 2*len(page.Rows))
	for _, rec := range page.Rows {
		ids = append(ids, rec.ID(), counterID(rec.ID()))
	}
	if err := c.records.Deletes(ctx, ids); err != nil {
		return false, fmt.Errorf("deleting versions of %s: %w", name, err)
	}
	c.logger.Info("deleted versions", "package", name, "count", len(page.Rows), "total", page.Total)
	return page.Cursor != "" || page.Total > len(page.Rows), nil
}

// TrackDownload increments the download count of one version. version may
// be the raw or the normalized form. Unknown versions are ignored.
func (c *Catalog) TrackDownload(ctx context.Context, name, ver string) (bool, error) {
	pv, err := c.Find(ctx, name, ver)
	if err != nil {
		return false, err
	}
	if pv == nil {
		normalized, nerr := version.Normalize(ver)
		if nerr != nil {
			return false, nil
		}
		if pv, err = c.Find(ctx, name, normalized); err != nil || pv == nil {
			return false, err
		}
	}

	counter := store.Record{"id": counterID(pv.Identity()), "package": pv.Name}
	if _, err := c.records.Incr(ctx, counter, countField, 1); err != nil {
		return false, fmt.Errorf("counting download of %s: %w", pv.Identity(), err)
	}
	return true, nil
}

// decode rejects records whose fields disagree with their identity.
func decode(rec store.Record) (*core.PackageVersion, error) {
	var pv core.PackageVersion
	if err := store.Decode(rec, &pv); err != nil {
		return nil, core.E("catalog.decode", core.Other, err)
	}
	if rec.ID() != pv.Identity() {
		return nil, core.E("catalog.decode", core.IdentityConflict,
			fmt.Errorf("record %s holds %s", rec.ID(), pv.Identity()))
	}
	return &pv, nil
}
