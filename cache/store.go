// Package cache persists the template-title sets the bots resolve
// rationale templates against, as a small JSON file under the user cache
// directory.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/adrg/xdg"

	"github.com/wcam-wk/nfcbot/nfc"
	"github.com/wcam-wk/nfcbot/wiki"
)

// DefaultPath returns the store location under the user cache directory,
// creating parent directories as needed.
func DefaultPath() (string, error) {
	return xdg.CacheFile("nfcbot/store.json")
}

// Store is a JSON file of title lists keyed by category. Every read and
// write goes back to the file, so concurrent runs observe each other's
// builds; last writer wins.
type Store struct {
	path string
}

// Open opens the store at path, creating an empty one when absent.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write(map[string][]string{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) read() (map[string][]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	out := map[string][]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return out, nil
}

func (s *Store) write(entries map[string][]string) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Get returns the titles stored under key, nil when absent.
func (s *Store) Get(key string) ([]string, error) {
	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	return entries[key], nil
}

// Set stores the titles under key sorted, keeping every other entry.
func (s *Store) Set(key string, titles []string) error {
	entries, err := s.read()
	if err != nil {
		return err
	}
	sorted := append([]string(nil), titles...)
	sort.Strings(sorted)
	entries[key] = sorted
	return s.write(entries)
}

// All returns every entry in the store.
func (s *Store) All() (map[string][]string, error) {
	return s.read()
}

// Keys returns the stored keys sorted.
func (s *Store) Keys() ([]string, error) {
	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Empty reports whether the store has no entries.
func (s *Store) Empty() (bool, error) {
	entries, err := s.read()
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Clear empties the store, leaving a valid empty file behind.
func (s *Store) Clear() error {
	return s.write(map[string][]string{})
}

// Build rebuilds both template sets from the live site: the recursive
// template-namespace members of each category, minus Template:Information,
// plus every template-namespace redirect to them.
func Build(ctx context.Context, site wiki.Site, store *Store) error {
	slog.Info("building template cache")
	ns := site.Namespaces()
	for _, cat := range []string{nfc.NfurTemplateCategory, nfc.FileTemplateCategory} {
		category, err := wiki.ParseWikilink(ns, cat, wiki.NsCategory)
		if err != nil {
			return err
		}
		members, err := wiki.CategoryTitles(ctx, site, category, true, wiki.NsTemplate)
		if err != nil {
			return err
		}
		kept := members[:0]
		for _, m := range members {
			if m.String() != "Template:Information" {
				kept = append(kept, m)
			}
		}
		set, err := wiki.ExpandRedirects(ctx, site, kept, wiki.NsTemplate)
		if err != nil {
			return err
		}
		titles := make([]string, 0, len(set))
		for _, t := range set.Titles() {
			titles = append(titles, t.String())
		}
		if err := store.Set(cat, titles); err != nil {
			return err
		}
		slog.Info("template cache entry built", "category", cat, "titles", len(titles))
	}
	return nil
}

// Ensure returns the store contents, building them first when the store
// is empty.
func Ensure(ctx context.Context, site wiki.Site, store *Store) (map[string][]string, error) {
	entries, err := store.All()
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		return entries, nil
	}
	if err := Build(ctx, site, store); err != nil {
		return nil, err
	}
	return store.All()
}
