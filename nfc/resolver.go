package nfc

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wcam-wk/nfcbot/wiki"
)

// Resolver maps rationale target titles onto live pages: page moves,
// redirects and disambiguation candidates.
type Resolver struct {
	Site wiki.Site
}

// TitleRegex returns a pattern matching the title the way the platform
// does: space and underscore runs are interchangeable and the first letter
// is case insensitive. The rest of the title stays case sensitive.
func TitleRegex(title wiki.Title) string {
	escaped := regexp.QuoteMeta(title.Underscored())
	escaped = strings.ReplaceAll(escaped, "_", "[ _]+")
	r, size := utf8.DecodeRuneInString(escaped)
	if unicode.IsLetter(r) {
		upper, lower := unicode.ToUpper(r), unicode.ToLower(r)
		if upper != lower {
			escaped = "[" + string(upper) + string(lower) + "]" + escaped[size:]
		}
	}
	return "(?:" + escaped + ")"
}

// TitlesRegex returns a pattern matching the page title or any of its
// article-namespace redirects.
func (r *Resolver) TitlesRegex(ctx context.Context, title wiki.Title) (string, error) {
	set, err := wiki.ExpandRedirects(ctx, r.Site, []wiki.Title{title}, wiki.NsMain)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(set))
	for _, t := range set.Titles() {
		parts = append(parts, TitleRegex(t))
	}
	return "(?:" + strings.Join(parts, "|") + ")", nil
}

// HandleTitle resolves a rationale's target title against the live site.
// It returns the resolved title plus candidate successors: move-log
// targets of the named title and, when it resolves to a disambiguation
// page, the articles that page links to. An unparseable title comes back
// as a wrapped wiki.ErrInvalidTitle.
func (r *Resolver) HandleTitle(ctx context.Context, raw string) (wiki.Title, []wiki.Title, error) {
	title, err := wiki.ParseWikilink(r.Site.Namespaces(), raw, wiki.NsMain)
	if err != nil {
		return wiki.Title{}, nil, err
	}
	var candidates []wiki.Title
	moves, err := r.Site.MoveLog(ctx, title)
	if err != nil {
		return wiki.Title{}, nil, err
	}
	for _, move := range moves {
		if move.Target.Namespace == wiki.NsMain {
			candidates = append(candidates, move.Target)
		}
	}
	info, err := r.Site.PageInfo(ctx, title)
	if err != nil {
		return wiki.Title{}, nil, err
	}
	if info.RedirectTo != nil {
		title = *info.RedirectTo
	}
	if info.Disambiguation {
		links, err := r.Site.Links(ctx, title, wiki.NsMain)
		if err != nil {
			return wiki.Title{}, nil, err
		}
		candidates = append(candidates, links...)
	}
	return title, candidates, nil
}

// NewTitle picks the replacement title for a rationale pointing at the
// wrong page: the first violating page that is a known successor of the
// article, or whose title reads as a disambiguated form of it, wins.
func (r *Resolver) NewTitle(ctx context.Context, article wiki.Title, candidates []wiki.Title, vios []Violation) (string, bool, error) {
	titles, err := r.TitlesRegex(ctx, article)
	if err != nil {
		return "", false, err
	}
	alts := []string{titles + `(?: \(.+\)|, [^,]+)`}
	name := article.String()
	if i := strings.LastIndex(name, " ("); i >= 0 {
		alts = append(alts, regexp.QuoteMeta(name[:i])+` \(.+\)`)
	}
	if i := strings.LastIndex(name, ", "); i >= 0 {
		alts = append(alts, regexp.QuoteMeta(name[:i])+`, [^,]+`)
	}
	dab, err := regexp.Compile(`(?i)^\s*(?:` + strings.Join(alts, "|") + `)\s*$`)
	if err != nil {
		return "", false, err
	}
	for _, vio := range vios {
		if containsTitle(candidates, vio.Page) || dab.MatchString(vio.Page.String()) {
			return vio.Page.String(), true, nil
		}
	}
	return "", false, nil
}

func containsTitle(titles []wiki.Title, t wiki.Title) bool {
	for _, c := range titles {
		if c.SameAs(t) {
			return true
		}
	}
	return false
}

// HasTemplate reports whether the page transcludes any of the named
// templates, redirects to them included.
func HasTemplate(ctx context.Context, site wiki.Site, page wiki.Title, names ...string) (bool, error) {
	ns := site.Namespaces()
	wanted := make([]wiki.Title, 0, len(names))
	for _, name := range names {
		t, err := wiki.ParseWikilink(ns, name, wiki.NsTemplate)
		if err != nil {
			return false, err
		}
		wanted = append(wanted, t)
	}
	set, err := wiki.ExpandRedirects(ctx, site, wanted, wiki.NsTemplate)
	if err != nil {
		return false, err
	}
	used, err := site.Templates(ctx, page, wiki.NsTemplate)
	if err != nil {
		return false, err
	}
	for _, t := range used {
		if set.Contains(t) {
			return true, nil
		}
	}
	return false, nil
}
