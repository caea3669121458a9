package bots

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wcam-wk/nfcbot/nfc"
	"github.com/wcam-wk/nfcbot/wiki"
)

// removerFixture builds a site with one violating non-free file, used
// without a rationale wherever a test embeds it.
func removerFixture(t *testing.T) (*wiki.MockSite, *nfc.Checker, *FileRemover) {
	t.Helper()
	site := wiki.NewMockSite()
	checker := newChecker(t, site, "Template:Non-free use rationale")
	addNonFree(t, site, "File:Cover art.jpg", "", 250, 250)
	return site, checker, NewFileRemover(site, checker)
}

func TestFileRemoverInlineLink(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	site.AddPage("Some article", "Intro text.\n[[File:Cover art.jpg|thumb|Cover]]\nMore text.")
	use(t, site, "Some article", "File:Cover art.jpg")

	assert.Equal("FileRemoverBot", bot.Name())
	s := subject(t, site, checker, "Some article")
	skip, err := bot.SkipPage(ctx, s)
	require.NoError(t, err)
	assert.False(skip)

	edit, err := bot.TreatPage(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal("Intro text.\n\nMore text.", edit.Text)
	assert.Equal("Removed [[WP:NFCC]] violation(s). No valid [[WP:NFUR|non-free use rationale]] for this page."+
		" See [[WP:NFC#Implementation]]. Questions? [[WP:MCQ|Ask here]].", edit.Summary)
	assert.Empty(s.Issues())
}

func TestFileRemoverTalkPageLink(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	site.AddPage("Talk:Some article", "See [[File:Cover art.jpg|thumb]] here.")
	use(t, site, "Talk:Some article", "File:Cover art.jpg")

	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "Talk:Some article"))
	require.NoError(t, err)
	require.NotNil(t, edit)
	// talk pages keep a text link so the discussion stays readable
	assert.Equal("See [[:File:Cover art.jpg]] here.", edit.Text)
	assert.Equal("Removed [[WP:NFCC]] violation(s). Non-free files are only permitted in articles.", edit.Summary)
}

func TestFileRemoverGallery(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	addNonFree(t, site, "File:Other cover.jpg",
		"{{Non-free use rationale|Article=Gallery article}}\n", 250, 250)
	site.AddFile("File:Free pic.jpg", "", 250, 250)
	site.AddPage("Gallery article", `Intro.
<gallery>
File:Cover art.jpg|Violating
File:Other cover.jpg|Fine
File:Free pic.jpg|Free
</gallery>
Outro.`)
	use(t, site, "Gallery article", "File:Cover art.jpg")
	use(t, site, "Gallery article", "File:Other cover.jpg")
	use(t, site, "Gallery article", "File:Free pic.jpg")

	s := subject(t, site, checker, "Gallery article")
	edit, err := bot.TreatPage(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal(`Intro.
<gallery>
File:Other cover.jpg|Fine
File:Free pic.jpg|Free
</gallery>
Outro.`, edit.Text)

	// the remaining non-free file is not removable here, but galleries
	// rarely satisfy the policy, so it is flagged for review
	issues := s.Issues()
	require.Len(t, issues, 1)
	assert.Equal("Gallery article", issues[0].Title.String())
	assert.Equal("[[WP:NFG]]", issues[0].Text)
}

func TestFileRemoverEmptyGalleryRemoved(t *testing.T) {
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	site.AddPage("Gallery article", "Before.\n<gallery>\nFile:Cover art.jpg\n</gallery>\nAfter.")
	use(t, site, "Gallery article", "File:Cover art.jpg")

	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "Gallery article"))
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal(t, "Before.\n\nAfter.", edit.Text)
}

func TestFileRemoverImagemap(t *testing.T) {
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	site.AddPage("Map article", `<imagemap>
# Map of the venue
File:Cover art.jpg|300px
rect 0 0 10 10 [[Somewhere]]
</imagemap>
Text.
<imagemap>
File:Free pic.jpg|300px
rect 0 0 10 10 [[Elsewhere]]
</imagemap>`)
	use(t, site, "Map article", "File:Cover art.jpg")

	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "Map article"))
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal(t, `
Text.
<imagemap>
File:Free pic.jpg|300px
rect 0 0 10 10 [[Elsewhere]]
</imagemap>`, edit.Text)
}

func TestFileRemoverTemplateParams(t *testing.T) {
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	site.AddPage("Album article", `{{Infobox album
| cover = File:Cover art.jpg
| name  = Foo
}}
{{Multiple image
| image1 = Cover art.jpg
| image2 = Free pic.jpg
}}`)
	use(t, site, "Album article", "File:Cover art.jpg")

	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "Album article"))
	require.NoError(t, err)
	require.NotNil(t, edit)
	// fields stay, with their whitespace margins, so positional
	// parameters keep their slots
	assert.Equal(t, "{{Infobox album\n| cover = \n| name  = Foo\n}}\n"+
		"{{Multiple image\n| image1 = \n| image2 = Free pic.jpg\n}}", edit.Text)
}

func TestFileRemoverRedirectedLink(t *testing.T) {
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	site.AddRedirect("File:Old cover.jpg", "File:Cover art.jpg")
	site.AddPage("Some article", "[[File:Old cover.jpg|thumb]]\nText.")
	use(t, site, "Some article", "File:Cover art.jpg")

	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "Some article"))
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal(t, "\nText.", edit.Text)
}

func TestFileRemoverProtectedRegions(t *testing.T) {
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	site.AddPage("Some article",
		"Line one.\n[[File:Cover art.jpg]]\nLine two.\n<!-- [[File:Cover art.jpg]] -->")
	use(t, site, "Some article", "File:Cover art.jpg")

	edit, err := bot.TreatPage(ctx, subject(t, site, checker, "Some article"))
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal(t, "Line one.\n\nLine two.\n<!-- [[File:Cover art.jpg]] -->", edit.Text)
}

func TestFileRemoverNothingRemovable(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	site.AddPage("Stubborn article", "No file markup here.")
	use(t, site, "Stubborn article", "File:Cover art.jpg")

	s := subject(t, site, checker, "Stubborn article")
	edit, err := bot.TreatPage(ctx, s)
	require.NoError(t, err)
	assert.Nil(edit)

	issues := s.Issues()
	require.Len(t, issues, 1)
	assert.Equal("Failed to remove file(s)", issues[0].Text)
}

func TestFileRemoverNoViolations(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	addNonFree(t, site, "File:Other cover.jpg",
		"{{Non-free use rationale|Article=Some article}}\n", 250, 250)
	site.AddPage("Some article", "[[File:Other cover.jpg|thumb]]\nText.")
	use(t, site, "Some article", "File:Other cover.jpg")

	s := subject(t, site, checker, "Some article")
	edit, err := bot.TreatPage(ctx, s)
	require.NoError(t, err)
	assert.Nil(edit)
	assert.Empty(s.Issues())
}

func TestFileRemoverIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	site, checker, bot := removerFixture(t)
	site.AddPage("Some article", "Intro text.\n[[File:Cover art.jpg|thumb]]\nMore text.")
	use(t, site, "Some article", "File:Cover art.jpg")

	first := subject(t, site, checker, "Some article")
	edit, err := bot.TreatPage(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, edit)
	site.Page("Some article").Text = edit.Text

	// usage tables lag behind the edit; the second pass finds the same
	// violation but nothing left to remove
	second := subject(t, site, checker, "Some article")
	edit, err = bot.TreatPage(ctx, second)
	require.NoError(t, err)
	assert.Nil(edit)

	issues := second.Issues()
	require.Len(t, issues, 1)
	assert.Equal("Failed to remove file(s)", issues[0].Text)
}
