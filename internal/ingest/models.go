package ingest

import (
	"fmt"
	"strings"
)

// WorkItem is one source video to be ingested.
type WorkItem struct {
	// ID identifies the item within a run (relative path or manifest name).
	ID string
	// Source is a local path or URL.
	Source string
	// Key is the catalog global key.
	Key string
	// ObjectKey is the destination key inside the object store, without the
	// store prefix.
	ObjectKey string
	// Owner carries the manifest owner/collector column when present.
	Owner string
}

// Validate reports whether the item carries the fields every stage relies on.
func (w WorkItem) Validate() error {
	switch {
	case strings.TrimSpace(w.ID) == "":
		return fmt.Errorf("work item missing id")
	case strings.TrimSpace(w.Source) == "":
		return fmt.Errorf("work item %s missing source", w.ID)
	case strings.TrimSpace(w.Key) == "":
		return fmt.Errorf("work item %s missing key", w.ID)
	case strings.TrimSpace(w.ObjectKey) == "":
		return fmt.Errorf("work item %s missing object key", w.ID)
	}
	return nil
}

// ArtifactRef tracks what a work item has produced so far.
type ArtifactRef struct {
	LocalPath string
	RemoteURI string
	// Temporary marks LocalPath as created by the transform stage.
	Temporary bool
	// Preexisting is set when the destination object existed before this run.
	Preexisting bool
}

// CatalogRecord is a single row submitted to the catalog service.
type CatalogRecord struct {
	RowData   string `json:"row_data"`
	GlobalKey string `json:"global_key"`
}

// NewCatalogRecord builds the registration record for an item whose artifact
// has reached the object store.
func NewCatalogRecord(item WorkItem, ref ArtifactRef) (CatalogRecord, error) {
	if strings.TrimSpace(ref.RemoteURI) == "" {
		return CatalogRecord{}, fmt.Errorf("item %s has no remote uri", item.ID)
	}
	return CatalogRecord{RowData: ref.RemoteURI, GlobalKey: item.Key}, nil
}
