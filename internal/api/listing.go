package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/othala/internal/remotestorage"
)

// folderContext is the JSON-LD context clients match folder listings on.
const folderContext = "http://remotestorage.io/spec/folder-description"

// documentItem is a document entry in a folder listing. The ETag value is
// the bare version string; quoting is only applied to header values.
type documentItem struct {
	ContentLength int64  `json:"Content-Length"`
	ETag          string `json:"ETag"`
	ContentType   string `json:"Content-Type"`
}

type listing struct {
	Context string         `json:"@context"`
	Items   map[string]any `json:"items"`
}

// writeListing renders a folder in the folder-description shape: documents
// carry length, version and content type; subfolders are empty objects.
func writeListing(w http.ResponseWriter, folder *remotestorage.Folder) {
	items := make(map[string]any, len(folder.Items))
	for name, item := range folder.Items {
		if item.IsFolder {
			items[name] = struct{}{}
			continue
		}
		items[name] = documentItem{
			ContentLength: item.Length,
			ETag:          item.Version.String(),
			ContentType:   item.ContentType,
		}
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(listing{Context: folderContext, Items: items}); err != nil {
		slog.Error("encode folder listing failed", slog.String("error", err.Error()))
	}
}
