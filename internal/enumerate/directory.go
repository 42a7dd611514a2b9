package enumerate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vidingest/internal/ingest"
	"vidingest/internal/services"
)

// DirectoryOptions configures a directory scan.
type DirectoryOptions struct {
	KeyOptions
	// Extensions lists the accepted file extensions, lower-case with a dot.
	Extensions []string
}

// Directory walks root and returns one work item per matching file, sorted by
// relative path. Hidden directories and files are ignored.
func Directory(root string, opts DirectoryOptions) ([]ingest.WorkItem, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "enumerate", "stat source", root, err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrConfiguration, "enumerate", "stat source", root+" is not a directory", nil)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		hidden := strings.HasPrefix(d.Name(), ".") && path != root
		if d.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !d.Type().IsRegular() {
			return nil
		}
		if HasExtension(d.Name(), opts.Extensions) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrEnumeration, "enumerate", "walk", root, err)
	}
	sort.Strings(files)

	items := make([]ingest.WorkItem, 0, len(files))
	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, services.Wrap(services.ErrEnumeration, "enumerate", "relative path", path, err)
		}
		key, objectKey := DeriveKeys(filepath.Base(path), opts.KeyOptions)
		items = append(items, ingest.WorkItem{
			ID:        filepath.ToSlash(rel),
			Source:    path,
			Key:       key,
			ObjectKey: objectKey,
		})
	}
	if err := CheckUnique(items); err != nil {
		return nil, err
	}
	return items, nil
}

// CheckUnique fails when two items share a key or an object key. The pipeline
// calls it again before submission so a hand-built item list is held to the
// same rule.
func CheckUnique(items []ingest.WorkItem) error {
	keys := make(map[string]string, len(items))
	objects := make(map[string]string, len(items))
	for _, item := range items {
		if other, ok := keys[item.Key]; ok {
			return services.Wrap(services.ErrEnumeration, "enumerate", "derive keys",
				fmt.Sprintf("%s and %s both map to key %q", other, item.ID, item.Key), nil)
		}
		keys[item.Key] = item.ID
		if other, ok := objects[item.ObjectKey]; ok {
			return services.Wrap(services.ErrEnumeration, "enumerate", "derive keys",
				fmt.Sprintf("%s and %s both map to object %q", other, item.ID, item.ObjectKey), nil)
		}
		objects[item.ObjectKey] = item.ID
	}
	return nil
}
