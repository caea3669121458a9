package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/wcam-wk/nfcbot/nfc"
	"github.com/wcam-wk/nfcbot/wiki"
)

// botSectionRe captures the text surrounding the managed report section.
var botSectionRe = regexp.MustCompile(
	`(?is)^(.*?<!--\s*nfcbot start\s*-->).*?(<!--\s*nfcbot end\s*-->.*)$`)

// WriteReport checks the given files for usage violations and writes a
// wikitable report to the target page. Files that are not non-free are
// skipped. A limit above zero stops the scan once that many violating
// files are listed.
func WriteReport(ctx context.Context, site wiki.Site, checker *nfc.Checker, titles []wiki.Title, target wiki.Title, limit int) error {
	var rows strings.Builder
	count := 0
	for _, title := range titles {
		file, err := checker.Classify(ctx, title)
		if errors.Is(err, nfc.ErrNotNonFree) {
			slog.Warn("skipping page", "page", title.String(), "err", err)
			continue
		} else if err != nil {
			return err
		}
		vios, err := file.UsageViolations(ctx)
		if err != nil {
			return err
		}
		if len(vios) == 0 {
			continue
		}
		slog.Debug("violations found", "file", title.String())
		count++
		for _, vio := range vios {
			fmt.Fprintf(&rows, "\n|-\n| %s || %s || %s",
				vio.File.AsLink(), vio.Page.AsLink(), vio.Criterion)
		}
		if limit > 0 && count >= limit {
			break
		}
	}

	text := "None"
	if rows.Len() > 0 {
		caption := fmt.Sprintf("%d files", count)
		if limit > 0 {
			caption += fmt.Sprintf(" (limit: %d)", limit)
		}
		caption += "; Last updated: ~~~~~"
		text = fmt.Sprintf("\n{| class=\"wikitable sortable\"\n|+ %s\n! File !! Page !! Criterion%s\n|}",
			caption, rows.String())
	}
	return saveBotSection(ctx, site, target, text, "Updating NFCC violations report")
}

// saveBotSection writes text to the page, replacing only the span between
// the "<!-- nfcbot start -->" and "<!-- nfcbot end -->" markers when the
// page carries them. A missing target page is a configuration problem, not
// a reason to fail the scan.
func saveBotSection(ctx context.Context, site wiki.Site, target wiki.Title, text, summary string) error {
	info, err := site.PageInfo(ctx, target)
	if err != nil {
		return fmt.Errorf("checking report page %s: %w", target, err)
	}
	if !info.Exists {
		slog.Warn("report page does not exist, not saving", "page", target.String())
		return nil
	}
	current, err := site.PageText(ctx, target)
	if err != nil {
		return fmt.Errorf("reading report page %s: %w", target, err)
	}

	text = strings.TrimSpace(text)
	newText := text
	if m := botSectionRe.FindStringSubmatch(current); m != nil {
		newText = m[1] + "\n" + text + "\n" + m[2]
	}
	if newText == current {
		slog.Info("report unchanged, not saving", "page", target.String())
		return nil
	}
	err = site.Save(ctx, &wiki.SaveRequest{
		Title:    target,
		Text:     newText,
		Summary:  summary,
		Bot:      true,
		NoCreate: true,
	})
	if err != nil {
		return fmt.Errorf("saving report page %s: %w", target, err)
	}
	return nil
}
