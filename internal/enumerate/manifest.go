package enumerate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"vidingest/internal/ingest"
	"vidingest/internal/services"
)

// ManifestOptions configures CSV manifest enumeration.
type ManifestOptions struct {
	KeyOptions
	NameColumn   string
	SourceColumn string
	OwnerColumn  string
	// SourceRoot, when set, makes the source column optional. Rows without a
	// source are located at <SourceRoot>/<name>.
	SourceRoot string
	// RequireOwner makes the owner column mandatory.
	RequireOwner bool
	// QualifyWithOwner prefixes IDs, keys and object keys with the owner so
	// that the same name under two owners stays distinct.
	QualifyWithOwner bool
}

type columns struct {
	name, source, owner int
}

// Manifest reads a CSV manifest file.
func Manifest(path string, opts ManifestOptions) ([]ingest.WorkItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "enumerate", "open manifest", path, err)
	}
	defer file.Close()
	return ReadManifest(file, opts)
}

// ReadManifest parses manifest rows from r. Header problems are configuration
// errors; row problems and key collisions are enumeration errors. Rows that
// repeat an earlier row exactly are collapsed into one item.
func ReadManifest(r io.Reader, opts ManifestOptions) ([]ingest.WorkItem, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, services.Wrap(services.ErrConfiguration, "enumerate", "read manifest header", "manifest is empty", nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "enumerate", "read manifest header", "", err)
	}
	cols, err := resolveColumns(header, opts)
	if err != nil {
		return nil, err
	}

	type seenRow struct {
		line   int
		source string
		owner  string
	}
	seen := make(map[string]seenRow)
	var items []ingest.WorkItem
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, services.Wrap(services.ErrEnumeration, "enumerate", "read manifest row", "", err)
		}
		line, _ := reader.FieldPos(0)

		name := field(record, cols.name)
		if name == "" {
			return nil, services.Wrap(services.ErrEnumeration, "enumerate", "read manifest row",
				fmt.Sprintf("line %d: empty %s", line, opts.NameColumn), nil)
		}
		owner := field(record, cols.owner)
		if opts.RequireOwner && owner == "" {
			return nil, services.Wrap(services.ErrEnumeration, "enumerate", "read manifest row",
				fmt.Sprintf("line %d: empty %s", line, opts.OwnerColumn), nil)
		}
		source := field(record, cols.source)
		if source == "" && opts.SourceRoot != "" {
			source = filepath.Join(opts.SourceRoot, filepath.FromSlash(name))
		}
		if source == "" {
			return nil, services.Wrap(services.ErrEnumeration, "enumerate", "read manifest row",
				fmt.Sprintf("line %d: empty %s", line, opts.SourceColumn), nil)
		}

		id := name
		if opts.QualifyWithOwner && owner != "" {
			id = owner + "/" + name
		}
		if prev, dup := seen[id]; dup {
			if prev.source == source && prev.owner == owner {
				continue
			}
			return nil, services.Wrap(services.ErrEnumeration, "enumerate", "read manifest row",
				fmt.Sprintf("lines %d and %d both name %q with different sources", prev.line, line, id), nil)
		}
		seen[id] = seenRow{line: line, source: source, owner: owner}

		key, objectKey := DeriveKeys(name, opts.KeyOptions)
		if opts.QualifyWithOwner && owner != "" {
			key = owner + "/" + key
			objectKey = owner + "/" + objectKey
		}
		items = append(items, ingest.WorkItem{
			ID:        id,
			Source:    source,
			Key:       key,
			ObjectKey: objectKey,
			Owner:     owner,
		})
	}

	if err := CheckUnique(items); err != nil {
		return nil, err
	}
	return items, nil
}

func resolveColumns(header []string, opts ManifestOptions) (columns, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, exists := index[name]; !exists {
			index[name] = i
		}
	}
	lookup := func(name string) int {
		if pos, ok := index[strings.ToLower(strings.TrimSpace(name))]; ok {
			return pos
		}
		return -1
	}

	cols := columns{
		name:   lookup(opts.NameColumn),
		source: lookup(opts.SourceColumn),
		owner:  lookup(opts.OwnerColumn),
	}
	var missing []string
	if cols.name < 0 {
		missing = append(missing, opts.NameColumn)
	}
	if cols.source < 0 && opts.SourceRoot == "" {
		missing = append(missing, opts.SourceColumn)
	}
	if cols.owner < 0 && opts.RequireOwner {
		missing = append(missing, opts.OwnerColumn)
	}
	if len(missing) > 0 {
		return cols, services.Wrap(services.ErrConfiguration, "enumerate", "validate manifest header",
			fmt.Sprintf("missing required columns: %s (have %s)", strings.Join(missing, ", "), strings.Join(header, ", ")), nil)
	}
	return cols, nil
}

func field(record []string, pos int) string {
	if pos < 0 || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
