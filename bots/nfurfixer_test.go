package bots

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wcam-wk/nfcbot/wiki"
)

func TestNfurFixerRetargetsTemplate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site, "Template:Non-free use rationale")

	fileText := `== Summary ==
{{Non-free use rationale
 | Article     = Old Band Name
 | Description = Band photo
}}
{{Non-free album cover}}
`
	addNonFree(t, site, "File:Band photo.jpg", fileText, 250, 250)
	use(t, site, "New Band Name", "File:Band photo.jpg")
	site.AddMove("Old Band Name", "New Band Name")

	bot := NewNfurFixer(site, checker)
	s := subject(t, site, checker, "File:Band photo.jpg")
	skip, err := bot.SkipPage(ctx, s)
	require.NoError(t, err)
	assert.False(skip)

	edit, err := bot.TreatPage(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal(`== Summary ==
{{Non-free use rationale
 | Article     = New Band Name
 | Description = Band photo
}}
{{Non-free album cover}}
`, edit.Text)
	assert.Equal("Update [[WP:NFUR|non-free use rationale]] per usage", edit.Summary)
	assert.Empty(s.Issues())
}

func TestNfurFixerRetargetsHeadingLink(t *testing.T) {
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site, "Template:Non-free use rationale")

	fileText := `== Rationale for [[Old Song]] ==
Some rationale text.
`
	addNonFree(t, site, "File:Single cover.jpg", fileText, 250, 250)
	use(t, site, "New Song", "File:Single cover.jpg")
	site.AddMove("Old Song", "New Song")

	bot := NewNfurFixer(site, checker)
	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "File:Single cover.jpg"))
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal(t, `== Rationale for [[New Song]] ==
Some rationale text.
`, edit.Text)
}

func TestNfurFixerTemplateChangeWinsOverHeadings(t *testing.T) {
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site, "Template:Non-free use rationale")

	fileText := `== Rationale for [[Old Band Name]] ==
{{Non-free use rationale|Article=Old Band Name}}
`
	addNonFree(t, site, "File:Band photo.jpg", fileText, 250, 250)
	use(t, site, "New Band Name", "File:Band photo.jpg")
	site.AddMove("Old Band Name", "New Band Name")

	bot := NewNfurFixer(site, checker)
	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "File:Band photo.jpg"))
	require.NoError(t, err)
	require.NotNil(t, edit)
	// the heading keeps its stale link; rewriting both would double up
	// the next run's diff
	assert.Equal(t, `== Rationale for [[Old Band Name]] ==
{{Non-free use rationale|Article=New Band Name}}
`, edit.Text)
}

func TestNfurFixerRedirectedArticle(t *testing.T) {
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site, "Template:Non-free use rationale")

	addNonFree(t, site, "File:Band photo.jpg",
		"{{Non-free use rationale|Article=Old Band Name}}\n", 250, 250)
	use(t, site, "New Band Name", "File:Band photo.jpg")
	site.AddRedirect("Old Band Name", "New Band Name")

	// the rationale resolves through the redirect, so its target counts
	// as the using page and nothing needs fixing
	bot := NewNfurFixer(site, checker)
	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "File:Band photo.jpg"))
	require.NoError(t, err)
	assert.Nil(t, edit)
}

func TestNfurFixerKeepsCurrentRationale(t *testing.T) {
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site, "Template:Non-free use rationale")

	fileText := "{{Non-free use rationale|Article=Alpha Band}}\n"
	addNonFree(t, site, "File:Band photo.jpg", fileText, 250, 250)
	use(t, site, "Alpha Band", "File:Band photo.jpg")
	use(t, site, "Beta Song", "File:Band photo.jpg")

	// Beta Song violates 10c, but no successor of Alpha Band matches it,
	// so the rationale stays put
	bot := NewNfurFixer(site, checker)
	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "File:Band photo.jpg"))
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal(t, fileText, edit.Text)
}

func TestNfurFixerLogsBadTitle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site, "Template:Non-free use rationale")

	fileText := "{{Non-free use rationale|Article={{PAGENAME}}}}\n"
	addNonFree(t, site, "File:Band photo.jpg", fileText, 250, 250)
	use(t, site, "Some article", "File:Band photo.jpg")

	bot := NewNfurFixer(site, checker)
	s := subject(t, site, checker, "File:Band photo.jpg")
	edit, err := bot.TreatPage(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal(fileText, edit.Text)

	issues := s.Issues()
	require.Len(t, issues, 1)
	assert.Contains(issues[0].Text, "PAGENAME")
}

func TestNfurFixerNoViolations(t *testing.T) {
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site, "Template:Non-free use rationale")

	addNonFree(t, site, "File:Band photo.jpg",
		"{{Non-free use rationale|Article=Alpha Band}}\n", 250, 250)
	use(t, site, "Alpha Band", "File:Band photo.jpg")

	bot := NewNfurFixer(site, checker)
	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "File:Band photo.jpg"))
	require.NoError(t, err)
	assert.Nil(t, edit)
}

func TestNfurFixerSkipsPlainPages(t *testing.T) {
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site, "Template:Non-free use rationale")
	site.AddPage("Some article", "Text.")

	bot := NewNfurFixer(site, checker)
	skip, err := bot.SkipPage(ctx, subject(t, site, checker, "Some article"))
	require.NoError(t, err)
	assert.True(t, skip)
}
