package bots

import (
	"context"
	"log/slog"

	"github.com/wcam-wk/nfcbot/nfc"
	"github.com/wcam-wk/nfcbot/wiki"
	"github.com/wcam-wk/nfcbot/wikitext"
)

// NfurFixer retargets stale use rationales on non-free file pages. When a
// rationale names a page that was moved or now disambiguates, and the file
// is used on a recognizable successor of it, the rationale is rewritten to
// point at the page in use.
type NfurFixer struct {
	site     wiki.Site
	checker  *nfc.Checker
	resolver *nfc.Resolver
}

func NewNfurFixer(site wiki.Site, checker *nfc.Checker) *NfurFixer {
	return &NfurFixer{site: site, checker: checker, resolver: &nfc.Resolver{Site: site}}
}

func (b *NfurFixer) Name() string { return "NfurFixerBot" }

func (b *NfurFixer) SkipPage(ctx context.Context, s *Subject) (bool, error) {
	if s.File == nil {
		slog.Error("not a non-free file", "page", s.Title.String())
		return true, nil
	}
	return false, nil
}

func (b *NfurFixer) TreatPage(ctx context.Context, s *Subject) (*Edit, error) {
	all, err := s.File.UsageViolations(ctx)
	if err != nil {
		return nil, err
	}
	var vios []nfc.Violation
	for _, vio := range all {
		if vio.Criterion == nfc.CriterionNoRationale {
			vios = append(vios, vio)
		}
	}
	if len(vios) == 0 {
		return nil, nil
	}
	usage, err := s.File.Usage(ctx)
	if err != nil {
		return nil, err
	}
	usageSet := wiki.NewTitleSet(usage...)

	code := wikitext.Parse(s.Text)
	if err := b.treatTemplates(ctx, s, code, usageSet, vios); err != nil {
		return nil, err
	}
	// Heading links are a weaker signal than rationale parameters; only
	// rewrite them when the template pass changed nothing.
	if code.String() == s.Text {
		if err := b.treatHeadings(ctx, s, code, usageSet, vios); err != nil {
			return nil, err
		}
	}
	return &Edit{
		Text:    code.String(),
		Summary: "Update [[WP:NFUR|non-free use rationale]] per usage",
	}, nil
}

// treatTemplates rewrites the Article parameter of each rationale template
// whose target is not among the file's using pages.
func (b *NfurFixer) treatTemplates(ctx context.Context, s *Subject, code *wikitext.Code, usage wiki.TitleSet, vios []nfc.Violation) error {
	ns := b.site.Namespaces()
	for _, tpl := range code.Templates() {
		name, err := wiki.ParseWikilink(ns, tpl.Name(), wiki.NsTemplate)
		if err != nil {
			continue
		}
		if !b.checker.RationaleTemplate(name) {
			continue
		}
		for i := len(tpl.Params) - 1; i >= 0; i-- {
			param := tpl.Params[i]
			if !param.NameMatches("Article") {
				continue
			}
			article, candidates, err := b.resolver.HandleTitle(ctx, param.Value())
			if err != nil {
				s.LogIssue(s.Title, err.Error())
				continue
			}
			if usage.Contains(article) {
				break
			}
			newTitle, ok, err := b.resolver.NewTitle(ctx, article, candidates, vios)
			if err != nil {
				return err
			}
			if ok {
				param.SetValue(newTitle)
			}
		}
	}
	return nil
}

// treatHeadings applies the same retargeting to wikilinks inside section
// headings, which file pages commonly use to label per-article rationales.
func (b *NfurFixer) treatHeadings(ctx context.Context, s *Subject, code *wikitext.Code, usage wiki.TitleSet, vios []nfc.Violation) error {
	for _, heading := range code.Headings() {
		for _, link := range heading.Title().WikiLinks() {
			article, candidates, err := b.resolver.HandleTitle(ctx, link.Target())
			if err != nil {
				s.LogIssue(s.Title, err.Error())
				continue
			}
			if usage.Contains(article) {
				break
			}
			newTitle, ok, err := b.resolver.NewTitle(ctx, article, candidates, vios)
			if err != nil {
				return err
			}
			if ok {
				link.SetTarget(newTitle)
			}
		}
	}
	return nil
}
