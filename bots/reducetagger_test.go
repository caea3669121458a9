package bots

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wcam-wk/nfcbot/wiki"
)

func TestReduceTagger(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site)
	addNonFree(t, site, "File:Huge cover.jpg", "Description.\n", 800, 600)
	use(t, site, "Some article", "File:Huge cover.jpg")

	bot := NewReduceTagger(site)
	assert.Equal("ReduceTaggerBot", bot.Name())

	s := subject(t, site, checker, "File:Huge cover.jpg")
	skip, err := bot.SkipPage(ctx, s)
	require.NoError(t, err)
	require.False(t, skip)

	edit, err := bot.TreatPage(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, edit)
	assert.Equal("{{Non-free reduce}}\nDescription.\n", edit.Text)
	assert.Equal("Request reduction. See [[WP:IMAGERES]] for details.", edit.Summary)
}

func TestReduceTaggerSkipsSmall(t *testing.T) {
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site)
	addNonFree(t, site, "File:Small cover.jpg", "", 250, 250)
	use(t, site, "Some article", "File:Small cover.jpg")

	bot := NewReduceTagger(site)
	skip, err := bot.SkipPage(ctx, subject(t, site, checker, "File:Small cover.jpg"))
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestReduceTaggerSkipsTagged(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site)

	tagged := addNonFree(t, site, "File:Tagged cover.jpg", "", 800, 600)
	use(t, site, "Some article", "File:Tagged cover.jpg")
	tagged.Templates = []wiki.Title{mustTitle(t, site, "Template:Non-free reduce")}

	site.AddRedirect("Template:Reduce", "Template:Non-free reduce")
	aliased := addNonFree(t, site, "File:Aliased cover.jpg", "", 800, 600)
	use(t, site, "Some article", "File:Aliased cover.jpg")
	aliased.Templates = []wiki.Title{mustTitle(t, site, "Template:Reduce")}

	bot := NewReduceTagger(site)

	skip, err := bot.SkipPage(ctx, subject(t, site, checker, "File:Tagged cover.jpg"))
	require.NoError(t, err)
	assert.True(skip)

	skip, err = bot.SkipPage(ctx, subject(t, site, checker, "File:Aliased cover.jpg"))
	require.NoError(t, err)
	assert.True(skip)
}

func TestReduceTaggerSkipsPlainPages(t *testing.T) {
	ctx := context.Background()
	site := wiki.NewMockSite()
	checker := newChecker(t, site)
	site.AddPage("Some article", "Text.")

	bot := NewReduceTagger(site)
	skip, err := bot.SkipPage(ctx, subject(t, site, checker, "Some article"))
	require.NoError(t, err)
	assert.True(t, skip)
}
