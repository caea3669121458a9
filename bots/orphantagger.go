package bots

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wcam-wk/nfcbot/nfc"
	"github.com/wcam-wk/nfcbot/wiki"
)

// OrphanTagger modes: whole unused files, or used files carrying stale
// extra revisions.
const (
	OrphanFileMode     = "file"
	OrphanRevisionMode = "revision"
)

// OrphanTagger tags files violating the orphaned-content criterion with
// the cleanup template matching its mode.
type OrphanTagger struct {
	site    wiki.Site
	mode    string
	tpl     string
	addText string
}

func NewOrphanTagger(site wiki.Site, mode string) (*OrphanTagger, error) {
	var tpl string
	switch mode {
	case OrphanFileMode:
		tpl = "di-orphaned non-free file"
	case OrphanRevisionMode:
		tpl = "orphaned non-free revisions"
	default:
		return nil, fmt.Errorf("invalid orphan tagger mode %q", mode)
	}
	return &OrphanTagger{
		site:    site,
		mode:    mode,
		tpl:     tpl,
		addText: "{{subst:" + tpl + "}}\n",
	}, nil
}

func (b *OrphanTagger) Name() string { return "OrphanTaggerBot" }

func (b *OrphanTagger) SkipPage(ctx context.Context, s *Subject) (bool, error) {
	if s.File == nil {
		slog.Error("not a non-free file", "page", s.Title.String())
		return true, nil
	}
	used, err := s.File.Used(ctx)
	if err != nil {
		return false, err
	}
	if (b.mode == OrphanFileMode && used) || (b.mode == OrphanRevisionMode && !used) {
		return true, nil
	}
	vios, err := s.File.FileViolations(ctx)
	if err != nil {
		return false, err
	}
	if !hasCriterion(vios, nfc.CriterionOrphaned) {
		return true, nil
	}
	tagged, err := nfc.HasTemplate(ctx, b.site, s.Title, b.tpl)
	if err != nil {
		return false, err
	}
	if tagged {
		slog.Info("already tagged", "page", s.Title.String(), "template", b.tpl)
		return true, nil
	}
	return false, nil
}

func (b *OrphanTagger) TreatPage(ctx context.Context, s *Subject) (*Edit, error) {
	return &Edit{
		Text:    b.addText + s.Text,
		Summary: "Tag orphaned non-free file per [[WP:NFCC#7]]",
	}, nil
}
