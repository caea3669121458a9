package bots

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/wcam-wk/nfcbot/nfc"
	"github.com/wcam-wk/nfcbot/wiki"
	"github.com/wcam-wk/nfcbot/wikitext"
)

// Per-criterion explanation appended to the removal summary.
var removalSummaries = map[string]string{
	nfc.CriterionOutsideArticles: "Non-free files are only permitted in articles.",
	nfc.CriterionNoRationale: "No valid [[WP:NFUR|non-free use rationale]] for this page." +
		" See [[WP:NFC#Implementation]]. Questions? [[WP:MCQ|Ask here]].",
}

// FileRemover strips violating non-free files out of the pages that use
// them: inline links, gallery lines, imagemaps and template parameters.
type FileRemover struct {
	site    wiki.Site
	checker *nfc.Checker
	linkRe  *regexp.Regexp
	nsIdx   int
	fileIdx int
}

func NewFileRemover(site wiki.Site, checker *nfc.Checker) *FileRemover {
	re := wikitext.FileLinkRegex(site.Namespaces().FileAliases())
	return &FileRemover{
		site:    site,
		checker: checker,
		linkRe:  re,
		nsIdx:   re.SubexpIndex("namespace"),
		fileIdx: re.SubexpIndex("filename"),
	}
}

func (b *FileRemover) Name() string { return "FileRemoverBot" }

// SkipPage keeps every existing page: articles lose files without a valid
// rationale, everything else loses non-free files outright.
func (b *FileRemover) SkipPage(ctx context.Context, s *Subject) (bool, error) {
	return false, nil
}

func (b *FileRemover) TreatPage(ctx context.Context, s *Subject) (*Edit, error) {
	vios, err := b.checker.PageUsageViolations(ctx, s.Title)
	if err != nil {
		return nil, err
	}
	seen := wiki.NewTitleSet()
	var fileTitles []wiki.Title
	for _, vio := range vios {
		if seen.Contains(vio.File) {
			continue
		}
		seen.Add(vio.File)
		fileTitles = append(fileTitles, vio.File)
	}
	if len(fileTitles) == 0 {
		return nil, nil
	}
	// Pages embed files under redirect titles too; remove those as well.
	files, err := wiki.ExpandRedirects(ctx, b.site, fileTitles)
	if err != nil {
		return nil, err
	}

	text := b.removeFileLinks(s, files)
	code := wikitext.Parse(text)
	if err := b.removeGalleryFiles(ctx, s, code, files); err != nil {
		return nil, err
	}
	b.removeImagemapFiles(code, files)
	b.removeTemplateFiles(code, files)
	newText := code.String()
	if newText == s.Text {
		s.LogIssue(s.Title, "Failed to remove file(s)")
		return nil, nil
	}

	summary := "Removed [[WP:NFCC]] violation(s). "
	if s.Title.IsArticle() {
		summary += removalSummaries[nfc.CriterionNoRationale]
	} else {
		summary += removalSummaries[nfc.CriterionOutsideArticles]
	}
	return &Edit{Text: newText, Summary: summary}, nil
}

// removeFileLinks strips embedded links to violating files. On content
// pages the link goes away with its surrounding spaces; on talk pages it
// turns into a plain text link so the discussion stays readable.
func (b *FileRemover) removeFileLinks(s *Subject, files wiki.TitleSet) string {
	text := s.Text
	ns := b.site.Namespaces()
	talk := ns.IsTalk(s.Title.Namespace)
	for _, m := range b.linkRe.FindAllStringSubmatch(wikitext.StripDisabled(text), -1) {
		file, err := wiki.ParseFileTitle(ns, m[b.fileIdx])
		if err != nil {
			continue
		}
		if !files.Contains(file) {
			continue
		}
		var old *regexp.Regexp
		var repl string
		if talk {
			old = regexp.MustCompile(regexp.QuoteMeta(m[0]))
			repl = "[[:" + m[b.nsIdx] + ":" + m[b.fileIdx] + "]]"
		} else {
			old = regexp.MustCompile(" *" + regexp.QuoteMeta(m[0]) + " *")
		}
		text = wikitext.ReplaceExcept(text, old, repl)
	}
	return text
}

// removeGalleryFiles drops gallery lines naming violating files. A
// non-violating non-free file in the same gallery is left in place but
// flagged for review, galleries rarely satisfy the policy.
func (b *FileRemover) removeGalleryFiles(ctx context.Context, s *Subject, code *wikitext.Code, files wiki.TitleSet) error {
	ns := b.site.Namespaces()
	for _, tag := range code.Tags("gallery") {
		if tag.Blank() {
			continue
		}
		lines := tag.Lines()
		kept := lines[:0]
		for _, line := range lines {
			target, _, _ := strings.Cut(wikitext.StripDisabled(line), "|")
			file, err := wiki.ParseFileTitle(ns, target)
			if err != nil {
				kept = append(kept, line)
				continue
			}
			if files.Contains(file) {
				continue
			}
			if _, err := b.checker.Classify(ctx, file); err == nil {
				s.LogIssue(s.Title, "[[WP:NFG]]")
			} else if !errors.Is(err, nfc.ErrNotNonFree) {
				return err
			}
			kept = append(kept, line)
		}
		tag.SetLines(kept)
		if tag.Blank() {
			code.Remove(tag)
		}
	}
	return nil
}

// removeImagemapFiles removes whole imagemaps built on a violating file.
// Only the first logical line names the image.
func (b *FileRemover) removeImagemapFiles(code *wikitext.Code, files wiki.TitleSet) {
	ns := b.site.Namespaces()
	for _, tag := range code.Tags("imagemap") {
		if tag.Blank() {
			continue
		}
		for _, line := range tag.Lines() {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			target, _, _ := strings.Cut(wikitext.StripDisabled(line), "|")
			if file, err := wiki.ParseFileTitle(ns, target); err == nil && files.Contains(file) {
				code.Remove(tag)
			}
			break
		}
	}
}

// removeTemplateFiles blanks template parameters whose value names a
// violating file, keeping the field so positional parameters stay put.
func (b *FileRemover) removeTemplateFiles(code *wikitext.Code, files wiki.TitleSet) {
	ns := b.site.Namespaces()
	for _, tpl := range code.Templates() {
		for _, param := range tpl.Params {
			file, err := wiki.ParseFileTitle(ns, param.Value())
			if err != nil {
				continue
			}
			if files.Contains(file) {
				tpl.RemoveParam(param, true)
			}
		}
	}
}
