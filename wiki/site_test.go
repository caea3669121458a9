package wiki

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitleSet(t *testing.T) {
	assert := assert.New(t)
	ns := DefaultNamespaces()

	a, _ := ParseTitle(ns, "Foo")
	b, _ := ParseTitle(ns, "File:Bar.jpg")
	withSection, _ := ParseTitle(ns, "Foo#History")

	set := NewTitleSet(a, b)
	assert.True(set.Contains(a))
	assert.True(set.Contains(withSection))
	assert.Equal(2, len(set))

	set.Add(withSection)
	assert.Equal(2, len(set))

	titles := set.Titles()
	require.Len(t, titles, 2)
	assert.Equal("File:Bar.jpg", titles[0].String())
	assert.Equal("Foo", titles[1].String())
}

func TestExpandRedirects(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	site := NewMockSite()
	site.AddPage("Jonquil", "some article")
	site.AddRedirect("Daffodil", "Jonquil")
	site.AddRedirect("Talk:Daffodil", "Jonquil")

	target := site.Page("Jonquil").Title
	set, err := ExpandRedirects(ctx, site, []Title{target}, NsMain)
	require.NoError(t, err)
	assert.True(set.Contains(target))
	assert.True(set.Contains(site.Page("Daffodil").Title))
	assert.False(set.Contains(site.Page("Talk:Daffodil").Title))
	assert.Equal(2, len(set))
}

func TestCategoryTitles(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	site := NewMockSite()
	root := "Category:Non-free use rationale templates"
	sub := "Category:Album rationale templates"
	site.AddPage(root, "")
	site.AddPage(sub, "").Categories = []string{root}
	site.AddPage("Template:Non-free use rationale", "").Categories = []string{root}
	site.AddPage("Template:Album rationale", "").Categories = []string{sub}
	site.AddPage("Help:Rationales", "").Categories = []string{root}

	cat, err := ParseTitle(site.NS, root)
	require.NoError(t, err)

	flat, err := CategoryTitles(ctx, site, cat, false, NsTemplate)
	require.NoError(t, err)
	assert.Len(flat, 1)
	assert.Equal("Template:Non-free use rationale", flat[0].String())

	recursive, err := CategoryTitles(ctx, site, cat, true, NsTemplate)
	require.NoError(t, err)
	names := make([]string, len(recursive))
	for i, title := range recursive {
		names[i] = title.String()
	}
	assert.ElementsMatch([]string{
		"Template:Album rationale",
		"Template:Non-free use rationale",
	}, names)
}

func TestCategoryTitlesCycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	site := NewMockSite()
	site.AddPage("Category:A", "").Categories = []string{"Category:B"}
	site.AddPage("Category:B", "").Categories = []string{"Category:A"}
	site.AddPage("Template:T", "").Categories = []string{"Category:B"}

	cat, err := ParseTitle(site.NS, "Category:A")
	require.NoError(err)
	got, err := CategoryTitles(ctx, site, cat, true, NsTemplate)
	require.NoError(err)
	require.Len(got, 1)
	require.Equal("Template:T", got[0].String())
}

func TestMockSitePageInfoRedirectChain(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	site := NewMockSite()
	site.AddPage("Final", "article text").Disambig = true
	site.AddRedirect("Hop", "Final")
	site.AddRedirect("Start", "Hop")

	start, _ := ParseTitle(site.NS, "Start")
	info, err := site.PageInfo(ctx, start)
	require.NoError(t, err)
	assert.True(info.Exists)
	require.NotNil(t, info.RedirectTo)
	assert.Equal("Final", info.RedirectTo.String())
	assert.True(info.Disambiguation)

	missing, _ := ParseTitle(site.NS, "Nothing here")
	info, err = site.PageInfo(ctx, missing)
	require.NoError(t, err)
	assert.False(info.Exists)
	assert.Nil(info.RedirectTo)
}

func TestMockSiteSave(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	site := NewMockSite()
	site.AddPage("Sandbox", "old")

	title, _ := ParseTitle(site.NS, "Sandbox")
	err := site.Save(ctx, &SaveRequest{Title: title, Text: "new", Summary: "test"})
	require.NoError(t, err)
	text, err := site.PageText(ctx, title)
	require.NoError(t, err)
	assert.Equal("new", text)

	missing, _ := ParseTitle(site.NS, "Not created")
	err = site.Save(ctx, &SaveRequest{Title: missing, Text: "x", NoCreate: true})
	assert.ErrorIs(err, ErrSaveRejected)

	err = site.Save(ctx, &SaveRequest{Title: title, Text: "appended body", NewSection: "Heading"})
	require.NoError(t, err)
	text, _ = site.PageText(ctx, title)
	assert.Contains(text, "== Heading ==")
	assert.Contains(text, "appended body")
}
