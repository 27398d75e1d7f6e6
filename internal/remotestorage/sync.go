package remotestorage

import (
	"log/slog"
	"net/http"

	"github.com/starford/othala/internal/meta"
	"github.com/starford/othala/internal/rspath"
	"github.com/starford/othala/internal/storage"
)

// Sweep walks the base directory and brings the ledger back in line with it:
//   - documents on disk without a ledger row get a fresh version and an
//     ancestor cascade (the crash window between a bytes write and its ledger
//     write, or an out-of-band copy into the base dir)
//   - ledger rows whose file is gone are pruned, with the surviving ancestors
//     bumped
func Sweep(docs storage.Provider, ledger *meta.DB, logger *slog.Logger) error {
	disk, err := docs.AllDocuments()
	if err != nil {
		return err
	}
	rows, err := ledger.AllDocuments()
	if err != nil {
		return err
	}

	onDisk := make(map[string]struct{}, len(disk))
	for _, p := range disk {
		onDisk[p.String()] = struct{}{}
		if _, ok := rows[p.String()]; ok {
			continue
		}
		if err := repairDocument(docs, ledger, p); err != nil {
			logger.Warn("sweep: version repair failed", slog.String("path", p.String()), slog.String("error", err.Error()))
		} else {
			logger.Debug("sweep: versioned unledgered document", slog.String("path", p.String()))
		}
	}

	for path := range rows {
		if _, ok := onDisk[path]; ok {
			continue
		}
		p, perr := rspath.Parse(path)
		if perr != nil {
			continue
		}
		if err := pruneDocument(docs, ledger, p); err != nil {
			logger.Warn("sweep: prune failed", slog.String("path", path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sweep: pruned stale row", slog.String("path", path))
		}
	}
	return nil
}

// repairDocument gives an unledgered on-disk document a version, sniffing its
// content type from the leading bytes, and cascades the bump to its ancestors.
func repairDocument(docs storage.Provider, ledger *meta.DB, p rspath.Path) error {
	data, err := docs.Read(p)
	if err != nil {
		return err
	}
	return ledger.CascadeUpsert(p.String(), http.DetectContentType(data), pathStrings(p.AncestorsFromRoot()))
}

// pruneDocument drops the ledger row for a document whose file is gone,
// removes rows for ancestor folders that vanished with it, and bumps the
// ancestors still on disk.
func pruneDocument(docs storage.Provider, ledger *meta.DB, p rspath.Path) error {
	removed := []string{p.String()}
	var bump []string
	gone := true
	for _, a := range p.AncestorsToRoot() {
		if gone && !docs.Exists(a) {
			removed = append(removed, a.String())
			continue
		}
		gone = false
		bump = append(bump, a.String())
	}
	return ledger.CascadeDelete(removed, bump)
}
