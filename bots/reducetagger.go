package bots

import (
	"context"
	"log/slog"

	"github.com/wcam-wk/nfcbot/nfc"
	"github.com/wcam-wk/nfcbot/wiki"
)

// ReduceTagger requests reduction of files exceeding the resolution bound
// of the minimal-extent criterion.
type ReduceTagger struct {
	site    wiki.Site
	addText string
}

func NewReduceTagger(site wiki.Site) *ReduceTagger {
	return &ReduceTagger{site: site, addText: "{{" + nfc.ReduceTemplates[0] + "}}\n"}
}

func (b *ReduceTagger) Name() string { return "ReduceTaggerBot" }

func (b *ReduceTagger) SkipPage(ctx context.Context, s *Subject) (bool, error) {
	if s.File == nil {
		slog.Error("not a non-free file", "page", s.Title.String())
		return true, nil
	}
	vios, err := s.File.FileViolations(ctx)
	if err != nil {
		return false, err
	}
	if !hasCriterion(vios, nfc.CriterionOversize) {
		return true, nil
	}
	names := make([]string, 0, len(nfc.ReduceTemplates)+len(nfc.NoReduceTemplates))
	names = append(names, nfc.ReduceTemplates...)
	names = append(names, nfc.NoReduceTemplates...)
	tagged, err := nfc.HasTemplate(ctx, b.site, s.Title, names...)
	if err != nil {
		return false, err
	}
	if tagged {
		slog.Info("already tagged", "page", s.Title.String())
		return true, nil
	}
	return false, nil
}

func (b *ReduceTagger) TreatPage(ctx context.Context, s *Subject) (*Edit, error) {
	return &Edit{
		Text:    b.addText + s.Text,
		Summary: "Request reduction. See [[WP:IMAGERES]] for details.",
	}, nil
}
