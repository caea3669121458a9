package wiki

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// A fake site, for use in tests. Pages are inserted up front; usage lookups
// are derived from the inserted state so both directions stay consistent.
// Saves are recorded and applied, which lets tests run a bot twice against
// the same fixture.
type MockSite struct {
	mu   *sync.RWMutex
	NS   *Namespaces
	User string
	Now  time.Time

	Pages      map[string]*MockPage
	Moves      map[string][]MoveLogEntry
	Expansions map[string]string
	Saves      []SaveRequest
}

// MockPage is the full fixture state of one page.
type MockPage struct {
	Title      Title
	Text       string
	RedirectTo *Title
	Disambig   bool
	Categories []string
	Links      []Title
	Templates  []Title
	Images     []Title
	History    []FileRevision
	Info       *ImageInfo
}

var _ Site = (*MockSite)(nil)

func NewMockSite() *MockSite {
	return &MockSite{
		mu:         &sync.RWMutex{},
		NS:         DefaultNamespaces(),
		User:       "TestBot",
		Now:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Pages:      make(map[string]*MockPage),
		Moves:      make(map[string][]MoveLogEntry),
		Expansions: make(map[string]string),
	}
}

func (m *MockSite) mustTitle(raw string) Title {
	t, err := ParseTitle(m.NS, raw)
	if err != nil {
		panic(fmt.Sprintf("mock fixture title %q: %v", raw, err))
	}
	return t
}

// AddPage inserts a page and returns it for further fixture setup. The raw
// title must parse; fixture mistakes panic.
func (m *MockSite) AddPage(rawTitle, text string) *MockPage {
	m.mu.Lock()
	defer m.mu.Unlock()

	title := m.mustTitle(rawTitle)
	page := &MockPage{Title: title, Text: text}
	m.Pages[title.Key()] = page
	return page
}

// AddRedirect inserts a redirect page.
func (m *MockSite) AddRedirect(rawFrom, rawTo string) *MockPage {
	page := m.AddPage(rawFrom, fmt.Sprintf("#REDIRECT [[%s]]", rawTo))
	target := m.mustTitle(rawTo)
	page.RedirectTo = &target
	return page
}

// AddFile inserts a file description page with a single upload revision of
// the given dimensions.
func (m *MockSite) AddFile(rawTitle, text string, width, height int) *MockPage {
	page := m.AddPage(rawTitle, text)
	page.Info = &ImageInfo{Width: width, Height: height, Size: int64(width * height), Mime: "image/png"}
	page.History = []FileRevision{{
		Timestamp: m.Now.Add(-24 * time.Hour),
		User:      "Uploader",
		Width:     width,
		Height:    height,
		Size:      int64(width * height),
	}}
	return page
}

// AddMove records a move-log entry for a title.
func (m *MockSite) AddMove(rawFrom, rawTo string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.mustTitle(rawFrom)
	to := m.mustTitle(rawTo)
	m.Moves[from.Key()] = append(m.Moves[from.Key()], MoveLogEntry{
		Target:    to,
		Timestamp: m.Now.Add(-48 * time.Hour),
		User:      "Mover",
		Comment:   "moved",
	})
}

// AddLink records an outgoing wikilink on an already-inserted page.
func (m *MockSite) AddLink(rawFrom, rawTo string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page := m.Pages[m.mustTitle(rawFrom).Key()]
	if page == nil {
		panic(fmt.Sprintf("mock fixture: no page %q", rawFrom))
	}
	page.Links = append(page.Links, m.mustTitle(rawTo))
}

// Page returns an inserted page by raw title, nil when absent.
func (m *MockSite) Page(raw string) *MockPage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Pages[m.mustTitle(raw).Key()]
}

func (m *MockSite) page(title Title) *MockPage {
	return m.Pages[title.WithoutSection().Key()]
}

// resolve follows the redirect chain from a page, mirroring the server-side
// resolution of the real site.
func (m *MockSite) resolve(page *MockPage) (*MockPage, *Title) {
	var target *Title
	for steps := 0; page != nil && page.RedirectTo != nil && steps <= len(m.Pages); steps++ {
		target = page.RedirectTo
		page = m.page(*page.RedirectTo)
	}
	return page, target
}

func (m *MockSite) PageInfo(ctx context.Context, title Title) (*PageInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := &PageInfo{Title: title.WithoutSection()}
	page := m.page(title)
	if page == nil {
		return info, nil
	}
	info.Exists = true
	final, target := m.resolve(page)
	info.RedirectTo = target
	if final != nil {
		info.Disambiguation = final.Disambig
		info.Length = int64(len(final.Text))
	}
	return info, nil
}

func (m *MockSite) PageText(ctx context.Context, title Title) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page := m.page(title)
	if page == nil {
		return "", fmt.Errorf("%w: %s", ErrPageMissing, title)
	}
	return page.Text, nil
}

func (m *MockSite) Categories(ctx context.Context, title Title) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page := m.page(title)
	if page == nil {
		return nil, nil
	}
	return append([]string(nil), page.Categories...), nil
}

func (m *MockSite) CategoryMembers(ctx context.Context, category Title, namespaces ...int) ([]Title, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Title
	for _, page := range m.Pages {
		for _, cat := range page.Categories {
			if cat == category.String() && namespaceWanted(page.Title.Namespace, namespaces) {
				out = append(out, page.Title)
				break
			}
		}
	}
	sortTitles(out)
	return out, nil
}

func (m *MockSite) Redirects(ctx context.Context, title Title, namespaces ...int) ([]Title, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := title.WithoutSection()
	var out []Title
	for _, page := range m.Pages {
		if page.RedirectTo != nil && page.RedirectTo.WithoutSection().SameAs(want) &&
			namespaceWanted(page.Title.Namespace, namespaces) {
			out = append(out, page.Title)
		}
	}
	sortTitles(out)
	return out, nil
}

func (m *MockSite) Links(ctx context.Context, title Title, namespaces ...int) ([]Title, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page := m.page(title)
	if page == nil {
		return nil, nil
	}
	var out []Title
	for _, l := range page.Links {
		if namespaceWanted(l.Namespace, namespaces) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MockSite) Templates(ctx context.Context, title Title, namespaces ...int) ([]Title, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page := m.page(title)
	if page == nil {
		return nil, nil
	}
	var out []Title
	for _, t := range page.Templates {
		if namespaceWanted(t.Namespace, namespaces) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockSite) FileUsage(ctx context.Context, file Title) ([]Title, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := file.WithoutSection()
	var out []Title
	for _, page := range m.Pages {
		for _, img := range page.Images {
			if img.SameAs(want) {
				out = append(out, page.Title)
				break
			}
		}
	}
	sortTitles(out)
	return out, nil
}

func (m *MockSite) ImageLinks(ctx context.Context, title Title) ([]Title, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page := m.page(title)
	if page == nil {
		return nil, nil
	}
	return append([]Title(nil), page.Images...), nil
}

func (m *MockSite) FileHistory(ctx context.Context, file Title) ([]FileRevision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page := m.page(file)
	if page == nil {
		return nil, nil
	}
	return append([]FileRevision(nil), page.History...), nil
}

func (m *MockSite) ImageInfo(ctx context.Context, file Title) (*ImageInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page := m.page(file)
	if page == nil || page.Info == nil {
		return nil, fmt.Errorf("%w: %s has no image info", ErrPageMissing, file)
	}
	info := *page.Info
	return &info, nil
}

func (m *MockSite) MoveLog(ctx context.Context, title Title) ([]MoveLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]MoveLogEntry(nil), m.Moves[title.WithoutSection().Key()]...), nil
}

func (m *MockSite) ExpandText(ctx context.Context, text string, title Title) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if expanded, ok := m.Expansions[text]; ok {
		return expanded, nil
	}
	return text, nil
}

func (m *MockSite) Save(ctx context.Context, req *SaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Saves = append(m.Saves, *req)
	page := m.page(req.Title)
	if page == nil {
		if req.NoCreate {
			return fmt.Errorf("%w: missingtitle: %s", ErrSaveRejected, req.Title)
		}
		page = &MockPage{Title: req.Title.WithoutSection()}
		m.Pages[page.Title.Key()] = page
	}
	if req.NewSection != "" {
		page.Text = strings.TrimRight(page.Text, "\n") + fmt.Sprintf("\n\n== %s ==\n\n%s", req.NewSection, req.Text)
	} else {
		page.Text = req.Text
	}
	return nil
}

func (m *MockSite) Username() string {
	return m.User
}

func (m *MockSite) ServerTime(ctx context.Context) (time.Time, error) {
	return m.Now, nil
}

func (m *MockSite) Namespaces() *Namespaces {
	return m.NS
}

func sortTitles(titles []Title) {
	sort.Slice(titles, func(i, j int) bool { return titles[i].String() < titles[j].String() })
}
