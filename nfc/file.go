package nfc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/wcam-wk/nfcbot/wiki"
	"github.com/wcam-wk/nfcbot/wikitext"
)

// ErrNotNonFree marks pages that are not non-free file description pages.
var ErrNotNonFree = errors.New("not a non-free file")

// Checker classifies files and computes policy violations. The rationale
// template set is resolved once and shared across every file of a run.
type Checker struct {
	site wiki.Site
	nfur wiki.TitleSet
}

// NewChecker builds a Checker over the given rationale template titles,
// usually the cached store contents with redirects already expanded.
func NewChecker(site wiki.Site, rationaleTemplates []string) (*Checker, error) {
	ns := site.Namespaces()
	nfur := wiki.TitleSet{}
	for _, name := range rationaleTemplates {
		t, err := wiki.ParseWikilink(ns, name, wiki.NsTemplate)
		if err != nil {
			return nil, fmt.Errorf("rationale template %q: %w", name, err)
		}
		nfur.Add(t)
	}
	return &Checker{site: site, nfur: nfur}, nil
}

// RationaleTemplate reports whether the resolved template title is one of
// the rationale templates.
func (c *Checker) RationaleTemplate(t wiki.Title) bool {
	return c.nfur.Contains(t)
}

// Classify returns the page as a non-free file. It fails with a wrapped
// ErrNotNonFree unless the page is a File page carrying
// NonFreeFileCategory.
func (c *Checker) Classify(ctx context.Context, title wiki.Title) (*NonFreeFile, error) {
	if title.Namespace != wiki.NsFile {
		classifyCount.WithLabelValues("other").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotNonFree, title)
	}
	cats, err := c.site.Categories(ctx, title)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(cats, NonFreeFileCategory) {
		classifyCount.WithLabelValues("other").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotNonFree, title)
	}
	classifyCount.WithLabelValues("nonfree").Inc()
	return &NonFreeFile{Title: title, checker: c}, nil
}

// PageUsageViolations returns the usage violations on one page across the
// non-free files it embeds. This is the article-side view the remover and
// the report run on.
func (c *Checker) PageUsageViolations(ctx context.Context, page wiki.Title) ([]Violation, error) {
	images, err := c.site.ImageLinks(ctx, page)
	if err != nil {
		return nil, err
	}
	var vios []Violation
	for _, image := range images {
		file, err := c.Classify(ctx, image)
		if errors.Is(err, ErrNotNonFree) {
			continue
		}
		if err != nil {
			return nil, err
		}
		fileVios, err := file.UsageViolations(ctx)
		if err != nil {
			return nil, err
		}
		for _, vio := range fileVios {
			if vio.Page.SameAs(page) {
				vios = append(vios, vio)
			}
		}
	}
	return vios, nil
}

// NonFreeFile is a classified non-free file description page. Violation
// lookups and the rationale parse are memoized per instance; instances are
// not safe for concurrent use.
type NonFreeFile struct {
	Title   wiki.Title
	checker *Checker

	usage        []wiki.Title
	usageFetched bool

	fileVios  []Violation
	fileDone  bool
	usageVios []Violation
	usageDone bool

	subjects wiki.TitleSet
	residual string
	parsed   bool
}

// Usage returns the pages embedding the file.
func (f *NonFreeFile) Usage(ctx context.Context) ([]wiki.Title, error) {
	if !f.usageFetched {
		usage, err := f.checker.site.FileUsage(ctx, f.Title)
		if err != nil {
			return nil, err
		}
		f.usage = usage
		f.usageFetched = true
	}
	return f.usage, nil
}

// Used reports whether any page embeds the file.
func (f *NonFreeFile) Used(ctx context.Context) (bool, error) {
	usage, err := f.Usage(ctx)
	if err != nil {
		return false, err
	}
	return len(usage) > 0, nil
}

// FileViolations returns the violations of the file criteria: orphaned
// content ("7") and oversize content ("3b").
func (f *NonFreeFile) FileViolations(ctx context.Context) ([]Violation, error) {
	if f.fileDone {
		return f.fileVios, nil
	}
	used, err := f.Used(ctx)
	if err != nil {
		return nil, err
	}
	if used {
		orphanedRevs, err := f.orphanedRevisions(ctx)
		if err != nil {
			return nil, err
		}
		if orphanedRevs {
			f.addFileViolation(CriterionOrphaned)
		}
	} else {
		f.addFileViolation(CriterionOrphaned)
	}
	oversize, err := f.oversize(ctx)
	if err != nil {
		return nil, err
	}
	if oversize {
		f.addFileViolation(CriterionOversize)
	}
	f.fileDone = true
	return f.fileVios, nil
}

func (f *NonFreeFile) addFileViolation(criterion string) {
	f.fileVios = append(f.fileVios, Violation{File: f.Title, Page: f.Title, Criterion: criterion})
	violationCount.WithLabelValues(criterion).Inc()
}

// orphanedRevisions reports whether more than one file revision is still
// visible. Suppressed revisions do not count.
func (f *NonFreeFile) orphanedRevisions(ctx context.Context) (bool, error) {
	history, err := f.checker.site.FileHistory(ctx, f.Title)
	if err != nil {
		return false, err
	}
	visible := 0
	for _, rev := range history {
		if rev.Hidden {
			continue
		}
		visible++
		if visible > 1 {
			return true, nil
		}
	}
	return false, nil
}

func (f *NonFreeFile) oversize(ctx context.Context) (bool, error) {
	info, err := f.checker.site.ImageInfo(ctx, f.Title)
	if errors.Is(err, wiki.ErrPageMissing) {
		// A description page without an uploaded file has no size.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	mpx := info.Megapixels()
	if mpx == 0 || mpx <= MaxMegapixels {
		return false, nil
	}
	noReduce, err := HasTemplate(ctx, f.checker.site, f.Title, NoReduceTemplates...)
	if err != nil {
		return false, err
	}
	return !noReduce, nil
}

// UsageViolations returns the violations of the usage criteria for every
// page embedding the file: non-articles violate "9", articles without a
// matching rationale violate "10c".
func (f *NonFreeFile) UsageViolations(ctx context.Context) ([]Violation, error) {
	if f.usageDone {
		return f.usageVios, nil
	}
	usage, err := f.Usage(ctx)
	if err != nil {
		return nil, err
	}
	for _, page := range usage {
		if !page.IsArticle() {
			f.addUsageViolation(page, CriterionOutsideArticles)
			continue
		}
		subjects, residual, err := f.rationales(ctx)
		if err != nil {
			return nil, err
		}
		if subjects.Contains(page) || strings.Contains(residual, page.Name) {
			continue
		}
		f.addUsageViolation(page, CriterionNoRationale)
	}
	f.usageDone = true
	return f.usageVios, nil
}

func (f *NonFreeFile) addUsageViolation(page wiki.Title, criterion string) {
	f.usageVios = append(f.usageVios, Violation{File: f.Title, Page: page, Criterion: criterion})
	violationCount.WithLabelValues(criterion).Inc()
}

// Violations returns the file and usage violations concatenated.
func (f *NonFreeFile) Violations(ctx context.Context) ([]Violation, error) {
	fileVios, err := f.FileViolations(ctx)
	if err != nil {
		return nil, err
	}
	usageVios, err := f.UsageViolations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Violation, 0, len(fileVios)+len(usageVios))
	out = append(out, fileVios...)
	return append(out, usageVios...), nil
}

// rationales parses the file description page once, returning the article
// subjects its use rationales point at and the leftover text with
// rationale templates and wiki links removed. An article mentioned in
// neither has no rationale on the page.
func (f *NonFreeFile) rationales(ctx context.Context) (wiki.TitleSet, string, error) {
	if f.parsed {
		return f.subjects, f.residual, nil
	}
	slog.Debug("parsing rationales", "file", f.Title.String())
	text, err := f.checker.site.PageText(ctx, f.Title)
	if err != nil {
		return nil, "", err
	}
	ns := f.checker.site.Namespaces()
	var links []wiki.Title
	code := wikitext.Parse(wikitext.StripDisabled(text))
	for _, tpl := range code.Templates() {
		name, err := wiki.ParseWikilink(ns, tpl.Name(), wiki.NsTemplate)
		if err != nil {
			continue
		}
		if !f.checker.nfur.Contains(name) {
			continue
		}
		for i := len(tpl.Params) - 1; i >= 0; i-- {
			param := tpl.Params[i]
			if !param.NameMatches("Article") {
				continue
			}
			value := param.Value()
			if strings.Contains(value, "{") {
				value, err = f.checker.site.ExpandText(ctx, value, f.Title)
				if err != nil {
					return nil, "", err
				}
			}
			if t, err := wiki.ParseWikilink(ns, value, wiki.NsMain); err == nil {
				links = append(links, t)
			}
			break
		}
		code.Remove(tpl)
	}
	for _, link := range code.WikiLinks() {
		t, err := wiki.ParseWikilink(ns, link.Target(), wiki.NsMain)
		if err != nil {
			continue
		}
		links = append(links, t)
		code.Remove(link)
	}
	subjects, err := f.articles(ctx, links)
	if err != nil {
		return nil, "", err
	}
	f.subjects = subjects
	f.residual = code.String()
	f.parsed = true
	return f.subjects, f.residual, nil
}

// articles normalizes collected link targets to articles: virtual
// namespaces are dropped, redirects resolved, non-articles dropped and
// sections stripped. A target that cannot be resolved is logged and
// skipped.
func (f *NonFreeFile) articles(ctx context.Context, links []wiki.Title) (wiki.TitleSet, error) {
	out := wiki.TitleSet{}
	for _, link := range links {
		if link.Namespace < 0 {
			continue
		}
		info, err := f.checker.site.PageInfo(ctx, link)
		if err != nil {
			slog.Warn("resolving rationale subject", "title", link.String(), "err", err)
			continue
		}
		title := link
		if info.RedirectTo != nil {
			title = *info.RedirectTo
		}
		if !title.IsArticle() {
			continue
		}
		out.Add(title)
	}
	return out, nil
}
