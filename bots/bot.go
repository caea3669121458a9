// Package bots implements the remediation tasks and the shared run loop
// they execute under: shutoff check, classification, skip gate, treatment,
// confirmation, save and the on-wiki issue log.
package bots

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/wcam-wk/nfcbot/nfc"
	"github.com/wcam-wk/nfcbot/wiki"
)

// ErrDisabled halts a run when the task's shutoff page has content.
var ErrDisabled = errors.New("task disabled by shutoff page")

// Bot is one remediation task. The runner drives it over candidate pages;
// implementations decide whether a page is in scope and what edit to make.
type Bot interface {
	// Name is the task name, also used in the shutoff and log page titles.
	Name() string
	// SkipPage reports whether the page should be skipped untreated.
	SkipPage(ctx context.Context, s *Subject) (bool, error)
	// TreatPage computes the edit for one page. A nil edit means nothing
	// to do.
	TreatPage(ctx context.Context, s *Subject) (*Edit, error)
}

// Edit is the outcome of treating a page.
type Edit struct {
	Text    string
	Summary string
}

// Subject is the page a bot is currently treating: the candidate title,
// its text at fetch time, and its classification. Issues raised during
// treatment accumulate here; the runner flushes them to the run log.
type Subject struct {
	Title wiki.Title
	Text  string
	// File is non-nil when the page classified as a non-free file.
	File *nfc.NonFreeFile

	issues []Issue
}

// Issue is one problem hit while treating a page, kept for the run log.
type Issue struct {
	Title wiki.Title
	Text  string
}

// LogIssue records a problem against a page. Empty issues are dropped.
func (s *Subject) LogIssue(title wiki.Title, issue string) {
	if issue == "" {
		return
	}
	s.issues = append(s.issues, Issue{Title: title, Text: issue})
}

// Issues returns the issues recorded so far.
func (s *Subject) Issues() []Issue {
	return append([]Issue(nil), s.issues...)
}

// Runner drives one bot over a stream of candidate pages. A single Runner
// handles one run; it is not safe for concurrent use.
type Runner struct {
	Site    wiki.Site
	Checker *nfc.Checker
	Bot     Bot
	Logger  *slog.Logger
	// Always saves without asking for confirmation.
	Always bool
	// Summary overrides the bot's edit summary when set.
	Summary string
	// Workers is the page text prefetch depth.
	Workers int
	// In and Out carry the confirmation prompt; nil means stdin/stdout.
	In  io.Reader
	Out io.Writer

	startTime time.Time
	issues    []string
	reader    *bufio.Reader
}

// Run treats every candidate title in order. The run halts early when the
// shutoff page gains content or a save fails for a reason other than the
// platform rejecting the edit.
func (r *Runner) Run(ctx context.Context, titles []wiki.Title) error {
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	start, err := r.Site.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("reading server time: %w", err)
	}
	r.startTime = start
	defer r.flushLog(context.WithoutCancel(ctx))

	workers := r.Workers
	if workers < 1 {
		workers = 4
	}
	for fetched := range wiki.Prefetch(ctx, r.Site, titles, workers) {
		if err := r.checkDisabled(ctx); err != nil {
			return err
		}
		if err := r.treatOne(ctx, fetched); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// treatOne processes a single page. Collaborator failures are logged and
// the page skipped; only save failures abort the run.
func (r *Runner) treatOne(ctx context.Context, fetched wiki.Fetched) (err error) {
	// recover any panics from treatment, same as an HTTP server would
	defer func() {
		if rec := recover(); rec != nil {
			r.Logger.Error("treatment panic", "bot", r.Bot.Name(), "page", fetched.Title.String(), "err", rec)
		}
	}()
	treatedCount.WithLabelValues(r.Bot.Name()).Inc()
	if errors.Is(fetched.Err, wiki.ErrPageMissing) {
		r.Logger.Warn("page does not exist", "page", fetched.Title.String())
		skippedCount.WithLabelValues(r.Bot.Name()).Inc()
		return nil
	}
	if fetched.Err != nil {
		r.Logger.Error("fetching page", "page", fetched.Title.String(), "err", fetched.Err)
		return nil
	}

	subj := &Subject{Title: fetched.Title, Text: fetched.Text}
	defer r.collectIssues(subj)
	file, err := r.Checker.Classify(ctx, fetched.Title)
	switch {
	case err == nil:
		subj.File = file
	case errors.Is(err, nfc.ErrNotNonFree):
		// plain page; bots that need a file skip it themselves
	default:
		r.Logger.Error("classifying page", "page", fetched.Title.String(), "err", err)
		return nil
	}

	skip, err := r.Bot.SkipPage(ctx, subj)
	if err != nil {
		r.Logger.Error("checking page", "bot", r.Bot.Name(), "page", subj.Title.String(), "err", err)
		return nil
	}
	if skip {
		skippedCount.WithLabelValues(r.Bot.Name()).Inc()
		return nil
	}

	edit, err := r.Bot.TreatPage(ctx, subj)
	if err != nil {
		r.Logger.Error("treating page", "bot", r.Bot.Name(), "page", subj.Title.String(), "err", err)
		return nil
	}
	if edit == nil || edit.Text == subj.Text {
		return nil
	}
	return r.save(ctx, subj, edit)
}

// checkDisabled halts the run when the task's shutoff page is non-empty.
// Writing anything to that page stops the bot before its next page.
func (r *Runner) checkDisabled(ctx context.Context) error {
	raw := fmt.Sprintf("User:%s/shutoff/%s.json", r.Site.Username(), r.Bot.Name())
	title, err := wiki.ParseTitle(r.Site.Namespaces(), raw)
	if err != nil {
		return err
	}
	text, err := r.Site.PageText(ctx, title)
	if errors.Is(err, wiki.ErrPageMissing) {
		return nil
	}
	if err != nil {
		return err
	}
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}
	r.logIssue(title, fmt.Sprintf("%s disabled:\n%s", r.Bot.Name(), content))
	r.Logger.Error("task disabled", "bot", r.Bot.Name(), "page", title.String())
	return fmt.Errorf("%w: %s", ErrDisabled, title)
}

func (r *Runner) save(ctx context.Context, s *Subject, edit *Edit) error {
	summary := edit.Summary
	if r.Summary != "" {
		summary = r.Summary
	}
	if !r.Always {
		ok, err := r.confirm(s, edit)
		if err != nil {
			return err
		}
		if !ok {
			r.Logger.Info("edit declined", "page", s.Title.String())
			return nil
		}
	}
	req := &wiki.SaveRequest{
		Title:    s.Title,
		Text:     edit.Text,
		Summary:  summary,
		Minor:    s.Title.Namespace == wiki.NsUserTalk,
		Bot:      true,
		NoCreate: true,
	}
	if err := r.Site.Save(ctx, req); err != nil {
		if errors.Is(err, wiki.ErrSaveRejected) {
			r.logIssue(s.Title, err.Error())
			return nil
		}
		return fmt.Errorf("saving %s: %w", s.Title, err)
	}
	savedCount.WithLabelValues(r.Bot.Name()).Inc()
	r.Logger.Info("saved", "bot", r.Bot.Name(), "page", s.Title.String(), "summary", summary)
	return nil
}

// confirm shows a unified diff of the pending edit and asks for approval.
// "a" approves this and every following edit of the run.
func (r *Runner) confirm(s *Subject, edit *Edit) (bool, error) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(s.Text),
		B:        difflib.SplitLines(edit.Text),
		FromFile: s.Title.String(),
		ToFile:   s.Title.String(),
		Context:  3,
	})
	if err != nil {
		return false, err
	}
	out := r.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprint(out, diff)
	fmt.Fprintf(out, "Save %s? [y/N/a]: ", s.Title)
	if r.reader == nil {
		in := r.In
		if in == nil {
			in = os.Stdin
		}
		r.reader = bufio.NewReader(in)
	}
	line, err := r.reader.ReadString('\n')
	if err != nil && line == "" {
		// input closed; decline the rest of the run
		fmt.Fprintln(out)
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	case "a", "always":
		r.Always = true
		return true, nil
	}
	return false, nil
}

// collectIssues moves the issues recorded on a subject into the run log.
func (r *Runner) collectIssues(s *Subject) {
	for _, issue := range s.issues {
		r.logIssue(issue.Title, issue.Text)
	}
	s.issues = nil
}

func (r *Runner) logIssue(title wiki.Title, issue string) {
	r.Logger.Warn("issue", "bot", r.Bot.Name(), "page", title.String(), "issue", issue)
	escaped := html.EscapeString(issue)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	r.issues = append(r.issues, fmt.Sprintf("%s: <code>%s</code>", title.AsLink(), escaped))
	issueCount.WithLabelValues(r.Bot.Name()).Inc()
}

// flushLog appends the collected issues to the task's log page as a new
// dated section. Nothing is written unless the log page already exists.
func (r *Runner) flushLog(ctx context.Context) {
	if len(r.issues) == 0 {
		return
	}
	raw := fmt.Sprintf("User:%s/log/%s", r.Site.Username(), r.Bot.Name())
	title, err := wiki.ParseTitle(r.Site.Namespaces(), raw)
	if err != nil {
		r.Logger.Error("building log page title", "err", err)
		return
	}
	info, err := r.Site.PageInfo(ctx, title)
	if err != nil {
		r.Logger.Error("reading log page", "page", title.String(), "err", err)
		return
	}
	if !info.Exists {
		return
	}
	var b strings.Builder
	for _, line := range r.issues {
		fmt.Fprintf(&b, "* %s\n", line)
	}
	stamp := r.startTime.UTC().Format(time.RFC3339)
	err = r.Site.Save(ctx, &wiki.SaveRequest{
		Title:      title,
		Text:       strings.TrimSpace(b.String()) + "\n\n~~~~",
		Summary:    stamp,
		NewSection: stamp,
	})
	if err != nil {
		r.Logger.Error("writing log page", "page", title.String(), "err", err)
	}
}

func hasCriterion(vios []nfc.Violation, criterion string) bool {
	for _, vio := range vios {
		if vio.Criterion == criterion {
			return true
		}
	}
	return false
}
