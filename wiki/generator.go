package wiki

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Source produces the candidate titles for one run.
type Source func(ctx context.Context, site Site) ([]Title, error)

// FromTitles builds a Source from raw title strings, usually CLI arguments.
func FromTitles(raw ...string) Source {
	return func(ctx context.Context, site Site) ([]Title, error) {
		out := make([]Title, 0, len(raw))
		for _, r := range raw {
			t, err := ParseTitle(site.Namespaces(), r)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}
}

// FromFile builds a Source reading one title per line. Blank lines and
// lines starting with "#" are skipped.
func FromFile(path string) Source {
	return func(ctx context.Context, site Site) ([]Title, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading titles file: %w", err)
		}
		var out []Title
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			t, err := ParseTitle(site.Namespaces(), line)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			out = append(out, t)
		}
		return out, nil
	}
}

// FromCategory builds a Source listing a category's members, walking
// subcategories when recurse is set. The category prefix on the raw name is
// optional.
func FromCategory(category string, recurse bool) Source {
	return func(ctx context.Context, site Site) ([]Title, error) {
		cat, err := ParseWikilink(site.Namespaces(), category, NsCategory)
		if err != nil {
			return nil, err
		}
		if cat.Namespace != NsCategory {
			return nil, fmt.Errorf("%w: %q is not a category", ErrInvalidTitle, category)
		}
		return CategoryTitles(ctx, site, cat, recurse)
	}
}

// UniqueTitles drops duplicate titles, keeping first-seen order.
func UniqueTitles(titles []Title) []Title {
	seen := make(map[string]bool, len(titles))
	out := titles[:0]
	for _, t := range titles {
		if seen[t.Key()] {
			continue
		}
		seen[t.Key()] = true
		out = append(out, t)
	}
	return out
}

// Fetched pairs a candidate title with its page text. A missing page
// surfaces as Err, same as a direct PageText call.
type Fetched struct {
	Title Title
	Text  string
	Err   error
}

// Prefetch yields one entry per title, in order, with page text fetched by
// up to workers concurrent lookups running ahead of the consumer. The
// treatment loop downstream stays strictly sequential; only the collaborator
// traffic overlaps. Cancelling the context stops the pipeline and closes
// the channel.
func Prefetch(ctx context.Context, site Site, titles []Title, workers int) <-chan Fetched {
	if workers < 1 {
		workers = 1
	}
	slots := make(chan chan Fetched, workers)
	go func() {
		defer close(slots)
		g := new(errgroup.Group)
		g.SetLimit(workers)
		defer g.Wait()
		for _, title := range titles {
			title := title
			slot := make(chan Fetched, 1)
			select {
			case slots <- slot:
			case <-ctx.Done():
				return
			}
			g.Go(func() error {
				text, err := site.PageText(ctx, title)
				slot <- Fetched{Title: title, Text: text, Err: err}
				return nil
			})
		}
	}()
	out := make(chan Fetched)
	go func() {
		defer close(out)
		for slot := range slots {
			entry := <-slot
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
