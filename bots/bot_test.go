package bots

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wcam-wk/nfcbot/nfc"
	"github.com/wcam-wk/nfcbot/wiki"
)

func mustTitle(t *testing.T, site *wiki.MockSite, raw string) wiki.Title {
	t.Helper()
	title, err := wiki.ParseTitle(site.NS, raw)
	require.NoError(t, err)
	return title
}

// addNonFree inserts a non-free file description page with an upload of the
// given dimensions.
func addNonFree(t *testing.T, site *wiki.MockSite, raw, text string, w, h int) *wiki.MockPage {
	t.Helper()
	page := site.AddFile(raw, text, w, h)
	page.Categories = []string{nfc.NonFreeFileCategory}
	return page
}

// use embeds the file on a page, creating the page when absent.
func use(t *testing.T, site *wiki.MockSite, pageRaw, fileRaw string) {
	t.Helper()
	page := site.Page(pageRaw)
	if page == nil {
		page = site.AddPage(pageRaw, "")
	}
	page.Images = append(page.Images, mustTitle(t, site, fileRaw))
}

func newChecker(t *testing.T, site *wiki.MockSite, rationaleTemplates ...string) *nfc.Checker {
	t.Helper()
	checker, err := nfc.NewChecker(site, rationaleTemplates)
	require.NoError(t, err)
	return checker
}

// subject builds a Subject for a fixture page, classifying it the way the
// runner would.
func subject(t *testing.T, site *wiki.MockSite, checker *nfc.Checker, raw string) *Subject {
	t.Helper()
	title := mustTitle(t, site, raw)
	text, err := site.PageText(context.Background(), title)
	require.NoError(t, err)
	s := &Subject{Title: title, Text: text}
	file, err := checker.Classify(context.Background(), title)
	if err == nil {
		s.File = file
	}
	return s
}

// fakeBot drives the runner tests; unset hooks treat and save nothing.
type fakeBot struct {
	skip  func(ctx context.Context, s *Subject) (bool, error)
	treat func(ctx context.Context, s *Subject) (*Edit, error)
}

func (b *fakeBot) Name() string { return "TestBot" }

func (b *fakeBot) SkipPage(ctx context.Context, s *Subject) (bool, error) {
	if b.skip == nil {
		return false, nil
	}
	return b.skip(ctx, s)
}

func (b *fakeBot) TreatPage(ctx context.Context, s *Subject) (*Edit, error) {
	if b.treat == nil {
		return nil, nil
	}
	return b.treat(ctx, s)
}

func appendText(extra string) func(ctx context.Context, s *Subject) (*Edit, error) {
	return func(ctx context.Context, s *Subject) (*Edit, error) {
		return &Edit{Text: s.Text + extra, Summary: "test edit"}, nil
	}
}

func TestRunnerSavesEdit(t *testing.T) {
	assert := assert.New(t)
	site := wiki.NewMockSite()
	site.AddPage("Some article", "Original text.")

	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot:     &fakeBot{treat: appendText("\n\nAdded line.")},
		Always:  true,
		Workers: 1,
	}
	err := runner.Run(context.Background(), []wiki.Title{mustTitle(t, site, "Some article")})
	require.NoError(t, err)

	require.Len(t, site.Saves, 1)
	save := site.Saves[0]
	assert.Equal("Some article", save.Title.String())
	assert.Equal("Original text.\n\nAdded line.", save.Text)
	assert.Equal("test edit", save.Summary)
	assert.False(save.Minor)
	assert.True(save.Bot)
	assert.True(save.NoCreate)
	assert.Equal("Original text.\n\nAdded line.", site.Page("Some article").Text)
}

func TestRunnerSummaryOverride(t *testing.T) {
	site := wiki.NewMockSite()
	site.AddPage("Some article", "Original text.")

	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot:     &fakeBot{treat: appendText(" More.")},
		Always:  true,
		Summary: "custom summary",
	}
	err := runner.Run(context.Background(), []wiki.Title{mustTitle(t, site, "Some article")})
	require.NoError(t, err)

	require.Len(t, site.Saves, 1)
	assert.Equal(t, "custom summary", site.Saves[0].Summary)
}

func TestRunnerMinorOnUserTalk(t *testing.T) {
	site := wiki.NewMockSite()
	site.AddPage("User talk:Somebody", "Hello.")

	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot:     &fakeBot{treat: appendText(" More.")},
		Always:  true,
	}
	err := runner.Run(context.Background(), []wiki.Title{mustTitle(t, site, "User talk:Somebody")})
	require.NoError(t, err)

	require.Len(t, site.Saves, 1)
	assert.True(t, site.Saves[0].Minor)
}

func TestRunnerNoChangeNoSave(t *testing.T) {
	site := wiki.NewMockSite()
	site.AddPage("Some article", "Original text.")
	site.AddPage("Other article", "Other text.")

	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot: &fakeBot{treat: func(ctx context.Context, s *Subject) (*Edit, error) {
			if s.Title.String() == "Some article" {
				return &Edit{Text: s.Text, Summary: "no-op"}, nil
			}
			return nil, nil
		}},
		Always: true,
	}
	titles := []wiki.Title{
		mustTitle(t, site, "Some article"),
		mustTitle(t, site, "Other article"),
	}
	err := runner.Run(context.Background(), titles)
	require.NoError(t, err)
	assert.Empty(t, site.Saves)
}

func TestRunnerSkipPage(t *testing.T) {
	site := wiki.NewMockSite()
	site.AddPage("Some article", "Original text.")

	treated := false
	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot: &fakeBot{
			skip: func(ctx context.Context, s *Subject) (bool, error) { return true, nil },
			treat: func(ctx context.Context, s *Subject) (*Edit, error) {
				treated = true
				return nil, nil
			},
		},
		Always: true,
	}
	err := runner.Run(context.Background(), []wiki.Title{mustTitle(t, site, "Some article")})
	require.NoError(t, err)
	assert.False(t, treated)
	assert.Empty(t, site.Saves)
}

func TestRunnerMissingPage(t *testing.T) {
	site := wiki.NewMockSite()

	treated := false
	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot: &fakeBot{treat: func(ctx context.Context, s *Subject) (*Edit, error) {
			treated = true
			return nil, nil
		}},
		Always: true,
	}
	err := runner.Run(context.Background(), []wiki.Title{mustTitle(t, site, "Never created")})
	require.NoError(t, err)
	assert.False(t, treated)
	assert.Empty(t, site.Saves)
}

func TestRunnerShutoff(t *testing.T) {
	assert := assert.New(t)
	site := wiki.NewMockSite()
	site.AddPage("Some article", "Original text.")
	site.AddPage("User:TestBot/shutoff/TestBot.json", "true")
	site.AddPage("User:TestBot/log/TestBot", "Log intro.")

	treated := false
	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot: &fakeBot{treat: func(ctx context.Context, s *Subject) (*Edit, error) {
			treated = true
			return nil, nil
		}},
		Always: true,
	}
	err := runner.Run(context.Background(), []wiki.Title{mustTitle(t, site, "Some article")})
	assert.ErrorIs(err, ErrDisabled)
	assert.False(treated)

	logText := site.Page("User:TestBot/log/TestBot").Text
	assert.Contains(logText, "== 2024-06-01T12:00:00Z ==")
	assert.Contains(logText, `* [[User:TestBot/shutoff/TestBot.json]]: <code>TestBot disabled:\ntrue</code>`)
	assert.Contains(logText, "~~~~")
}

func TestRunnerConfirm(t *testing.T) {
	assert := assert.New(t)
	site := wiki.NewMockSite()
	site.AddPage("Page one", "One.")
	site.AddPage("Page two", "Two.")

	var out bytes.Buffer
	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot:     &fakeBot{treat: appendText(" Edited.")},
		Workers: 1,
		In:      strings.NewReader("n\ny\n"),
		Out:     &out,
	}
	titles := []wiki.Title{
		mustTitle(t, site, "Page one"),
		mustTitle(t, site, "Page two"),
	}
	err := runner.Run(context.Background(), titles)
	require.NoError(t, err)

	require.Len(t, site.Saves, 1)
	assert.Equal("Page two", site.Saves[0].Title.String())
	assert.Equal("One.", site.Page("Page one").Text)

	assert.Contains(out.String(), "-One.")
	assert.Contains(out.String(), "+One. Edited.")
	assert.Contains(out.String(), "Save Page one? [y/N/a]: ")
	assert.Contains(out.String(), "Save Page two? [y/N/a]: ")
}

func TestRunnerConfirmAlways(t *testing.T) {
	site := wiki.NewMockSite()
	site.AddPage("Page one", "One.")
	site.AddPage("Page two", "Two.")

	var out bytes.Buffer
	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot:     &fakeBot{treat: appendText(" Edited.")},
		Workers: 1,
		In:      strings.NewReader("a\n"),
		Out:     &out,
	}
	titles := []wiki.Title{
		mustTitle(t, site, "Page one"),
		mustTitle(t, site, "Page two"),
	}
	err := runner.Run(context.Background(), titles)
	require.NoError(t, err)

	assert.Len(t, site.Saves, 2)
	assert.Equal(t, 1, strings.Count(out.String(), "[y/N/a]"))
}

func TestRunnerConfirmClosedInput(t *testing.T) {
	site := wiki.NewMockSite()
	site.AddPage("Page one", "One.")

	var out bytes.Buffer
	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot:     &fakeBot{treat: appendText(" Edited.")},
		In:      strings.NewReader(""),
		Out:     &out,
	}
	err := runner.Run(context.Background(), []wiki.Title{mustTitle(t, site, "Page one")})
	require.NoError(t, err)
	assert.Empty(t, site.Saves)
}

func TestRunnerSaveRejected(t *testing.T) {
	assert := assert.New(t)
	site := wiki.NewMockSite()
	site.AddPage("Doomed page", "Original text.")
	site.AddPage("User:TestBot/log/TestBot", "")

	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot: &fakeBot{treat: func(ctx context.Context, s *Subject) (*Edit, error) {
			// deleted out from under the bot between fetch and save
			delete(site.Pages, s.Title.Key())
			return &Edit{Text: s.Text + " Edited.", Summary: "test edit"}, nil
		}},
		Always:  true,
		Workers: 1,
	}
	err := runner.Run(context.Background(), []wiki.Title{mustTitle(t, site, "Doomed page")})
	require.NoError(t, err)

	logText := site.Page("User:TestBot/log/TestBot").Text
	assert.Contains(logText, "[[Doomed page]]")
	assert.Contains(logText, "missingtitle")
}

func TestRunnerIssueFlush(t *testing.T) {
	assert := assert.New(t)
	site := wiki.NewMockSite()
	site.AddPage("Some article", "Original text.")
	site.AddPage("User:TestBot/log/TestBot", "Log intro.")

	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot: &fakeBot{treat: func(ctx context.Context, s *Subject) (*Edit, error) {
			s.LogIssue(s.Title, "broken <ref>\nsecond line")
			return nil, nil
		}},
		Always: true,
	}
	err := runner.Run(context.Background(), []wiki.Title{mustTitle(t, site, "Some article")})
	require.NoError(t, err)

	require.Len(t, site.Saves, 1)
	save := site.Saves[0]
	assert.Equal("User:TestBot/log/TestBot", save.Title.String())
	assert.Equal("2024-06-01T12:00:00Z", save.NewSection)
	assert.Equal("2024-06-01T12:00:00Z", save.Summary)
	assert.False(save.Bot)
	assert.Equal(`* [[Some article]]: <code>broken &lt;ref&gt;\nsecond line</code>`+"\n\n~~~~", save.Text)

	logText := site.Page("User:TestBot/log/TestBot").Text
	assert.True(strings.HasPrefix(logText, "Log intro.\n\n== 2024-06-01T12:00:00Z ==\n\n"), logText)
}

func TestRunnerIssueFlushNeedsLogPage(t *testing.T) {
	site := wiki.NewMockSite()
	site.AddPage("Some article", "Original text.")

	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot: &fakeBot{treat: func(ctx context.Context, s *Subject) (*Edit, error) {
			s.LogIssue(s.Title, "some issue")
			return nil, nil
		}},
		Always: true,
	}
	err := runner.Run(context.Background(), []wiki.Title{mustTitle(t, site, "Some article")})
	require.NoError(t, err)
	assert.Empty(t, site.Saves)
}

func TestRunnerRecoversPanic(t *testing.T) {
	site := wiki.NewMockSite()
	site.AddPage("Some article", "Original text.")
	site.AddPage("Other article", "Other text.")
	site.AddPage("User:TestBot/log/TestBot", "")

	runner := &Runner{
		Site:    site,
		Checker: newChecker(t, site),
		Bot: &fakeBot{treat: func(ctx context.Context, s *Subject) (*Edit, error) {
			if s.Title.String() == "Some article" {
				s.LogIssue(s.Title, "about to blow up")
				panic("boom")
			}
			return &Edit{Text: s.Text + " Edited.", Summary: "test edit"}, nil
		}},
		Always:  true,
		Workers: 1,
	}
	titles := []wiki.Title{
		mustTitle(t, site, "Some article"),
		mustTitle(t, site, "Other article"),
	}
	err := runner.Run(context.Background(), titles)
	require.NoError(t, err)

	// the panicking page is abandoned, the next one still treated
	assert.Equal(t, "Other text. Edited.", site.Page("Other article").Text)
	assert.Contains(t, site.Page("User:TestBot/log/TestBot").Text, "about to blow up")
}

func TestSubjectLogIssue(t *testing.T) {
	assert := assert.New(t)
	site := wiki.NewMockSite()
	title := mustTitle(t, site, "Some article")

	s := &Subject{Title: title}
	s.LogIssue(title, "")
	assert.Empty(s.Issues())

	s.LogIssue(title, "first")
	s.LogIssue(title, "second")
	issues := s.Issues()
	require.Len(t, issues, 2)
	assert.Equal("first", issues[0].Text)
	assert.Equal("second", issues[1].Text)
}
