package wiki

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Page does not exist, in a situation where an existing page is required.
var ErrPageMissing = errors.New("page does not exist")

// The platform refused a write: edit conflict, protection, abuse filter,
// or nocreate against a missing page. Retrying without operator attention
// will not help.
var ErrSaveRejected = errors.New("save rejected")

// Site is the read/write boundary to one MediaWiki site. Almost all code in
// this repo talks to an implementation of this interface instead of the
// Action API directly; production use wraps [APISite] in a [CacheSite].
//
// All lookups take the canonical [Title] form. List methods return titles
// with the namespace number the platform reported, which is authoritative
// even for namespaces missing from the local table.
type Site interface {
	// PageInfo returns existence, redirect and disambiguation metadata for
	// a page. Redirect chains are resolved server-side.
	PageInfo(ctx context.Context, title Title) (*PageInfo, error)
	// PageText returns the wikitext of the latest revision, or
	// ErrPageMissing.
	PageText(ctx context.Context, title Title) (string, error)
	// Categories returns the canonical titles of the categories the page
	// is in, e.g. "Category:All non-free media".
	Categories(ctx context.Context, title Title) ([]string, error)
	// CategoryMembers returns the direct members of a category, optionally
	// restricted to the given namespaces. Subcategory recursion is the
	// caller's business; see CategoryTitles.
	CategoryMembers(ctx context.Context, category Title, namespaces ...int) ([]Title, error)
	// Redirects returns the titles which redirect to the page.
	Redirects(ctx context.Context, title Title, namespaces ...int) ([]Title, error)
	// Links returns the outgoing wikilink targets of the page.
	Links(ctx context.Context, title Title, namespaces ...int) ([]Title, error)
	// Templates returns the templates the page transcludes, including
	// through nested transclusion.
	Templates(ctx context.Context, title Title, namespaces ...int) ([]Title, error)
	// FileUsage returns the pages which embed the file.
	FileUsage(ctx context.Context, file Title) ([]Title, error)
	// ImageLinks returns the files embedded by the page.
	ImageLinks(ctx context.Context, title Title) ([]Title, error)
	// FileHistory returns the upload history of a file, newest first,
	// including revisions whose content was suppressed.
	FileHistory(ctx context.Context, file Title) ([]FileRevision, error)
	// ImageInfo returns dimensions and size of the current file revision.
	ImageInfo(ctx context.Context, file Title) (*ImageInfo, error)
	// MoveLog returns the public move-log entries for a title, newest
	// first.
	MoveLog(ctx context.Context, title Title) ([]MoveLogEntry, error)
	// ExpandText expands templates and parser functions in a wikitext
	// fragment as if it appeared on the given page.
	ExpandText(ctx context.Context, text string, title Title) (string, error)
	// Save writes one page, honoring the request's nocreate and
	// new-section options. Platform refusals come back wrapped in
	// ErrSaveRejected.
	Save(ctx context.Context, req *SaveRequest) error
	// Username returns the logged-in account name, empty when anonymous.
	Username() string
	// ServerTime returns the platform's current time.
	ServerTime(ctx context.Context) (time.Time, error)
	// Namespaces returns the site's namespace table.
	Namespaces() *Namespaces
}

// TitleSet is a set of titles keyed by canonical form. Section fragments do
// not participate in membership.
type TitleSet map[string]Title

// NewTitleSet builds a set from the given titles.
func NewTitleSet(titles ...Title) TitleSet {
	s := make(TitleSet, len(titles))
	for _, t := range titles {
		s.Add(t)
	}
	return s
}

// Add inserts a title, dropping any section fragment.
func (s TitleSet) Add(t Title) {
	t = t.WithoutSection()
	s[t.Key()] = t
}

// Contains reports membership.
func (s TitleSet) Contains(t Title) bool {
	_, ok := s[t.WithoutSection().Key()]
	return ok
}

// Titles returns the members sorted by canonical title.
func (s TitleSet) Titles() []Title {
	out := make([]Title, 0, len(s))
	for _, t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ExpandRedirects returns the given titles together with every title which
// redirects to them, optionally restricted by namespace. Mirrors how policy
// checks treat a page and its redirects as one unit.
func ExpandRedirects(ctx context.Context, site Site, titles []Title, namespaces ...int) (TitleSet, error) {
	out := NewTitleSet(titles...)
	for _, t := range titles {
		redirects, err := site.Redirects(ctx, t, namespaces...)
		if err != nil {
			return nil, fmt.Errorf("redirects of %s: %w", t, err)
		}
		for _, r := range redirects {
			out.Add(r)
		}
	}
	return out, nil
}

// CategoryTitles returns the member titles of a category, walking
// subcategories breadth-first when recurse is set. Already-visited
// subcategories are skipped, so category cycles terminate.
func CategoryTitles(ctx context.Context, site Site, category Title, recurse bool, namespaces ...int) ([]Title, error) {
	want := NewTitleSet()
	seen := NewTitleSet(category)
	queue := []Title{category}
	for len(queue) > 0 {
		cat := queue[0]
		queue = queue[1:]

		members, err := site.CategoryMembers(ctx, cat, memberNamespaces(recurse, namespaces)...)
		if err != nil {
			return nil, fmt.Errorf("members of %s: %w", cat, err)
		}
		for _, m := range members {
			if m.Namespace == NsCategory && recurse && !seen.Contains(m) {
				seen.Add(m)
				queue = append(queue, m)
			}
			if namespaceWanted(m.Namespace, namespaces) {
				want.Add(m)
			}
		}
	}
	return want.Titles(), nil
}

// memberNamespaces widens a namespace filter with NsCategory so recursion
// can see subcategories the caller filtered out.
func memberNamespaces(recurse bool, namespaces []int) []int {
	if !recurse || len(namespaces) == 0 || namespaceWanted(NsCategory, namespaces) {
		return namespaces
	}
	out := make([]int, 0, len(namespaces)+1)
	out = append(out, namespaces...)
	out = append(out, NsCategory)
	return out
}

func namespaceWanted(ns int, namespaces []int) bool {
	if len(namespaces) == 0 {
		return true
	}
	for _, n := range namespaces {
		if n == ns {
			return true
		}
	}
	return false
}
