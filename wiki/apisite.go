package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APISite implements [Site] over the Action API. The constructor performs a
// siteinfo handshake so the namespace table matches the live site, including
// namespaces the static default table does not know about.
type APISite struct {
	client *Client
	ns     *Namespaces
}

var _ Site = (*APISite)(nil)

// NewAPISite wraps a Client into a Site, loading the namespace table from
// the live site.
func NewAPISite(ctx context.Context, client *Client) (*APISite, error) {
	s := &APISite{
		client: client,
		ns:     DefaultNamespaces(),
	}
	if err := s.loadSiteInfo(ctx); err != nil {
		return nil, fmt.Errorf("siteinfo handshake with %s: %w", client.Host, err)
	}
	return s, nil
}

// Namespaces returns the table loaded from siteinfo.
func (s *APISite) Namespaces() *Namespaces {
	return s.ns
}

// Username returns the client's logged-in account name.
func (s *APISite) Username() string {
	return s.client.Username()
}

// queryParams covers every action=query variant this site makes. Zero
// fields stay out of the request.
type queryParams struct {
	Action       string `url:"action"`
	Titles       string `url:"titles,omitempty"`
	Prop         string `url:"prop,omitempty"`
	List         string `url:"list,omitempty"`
	Meta         string `url:"meta,omitempty"`
	SiProp       string `url:"siprop,omitempty"`
	Redirects    bool   `url:"redirects,omitempty"`
	PpProp       string `url:"ppprop,omitempty"`
	RvProp       string `url:"rvprop,omitempty"`
	RvSlots      string `url:"rvslots,omitempty"`
	ClLimit      string `url:"cllimit,omitempty"`
	RdLimit      string `url:"rdlimit,omitempty"`
	RdNamespace  string `url:"rdnamespace,omitempty"`
	PlLimit      string `url:"pllimit,omitempty"`
	PlNamespace  string `url:"plnamespace,omitempty"`
	TlLimit      string `url:"tllimit,omitempty"`
	TlNamespace  string `url:"tlnamespace,omitempty"`
	ImLimit      string `url:"imlimit,omitempty"`
	FuLimit      string `url:"fulimit,omitempty"`
	IiProp       string `url:"iiprop,omitempty"`
	IiLimit      string `url:"iilimit,omitempty"`
	CmTitle      string `url:"cmtitle,omitempty"`
	CmLimit      string `url:"cmlimit,omitempty"`
	CmNamespace  string `url:"cmnamespace,omitempty"`
	LeType       string `url:"letype,omitempty"`
	LeTitle      string `url:"letitle,omitempty"`
	LeLimit      string `url:"lelimit,omitempty"`
	CurTimestamp bool   `url:"curtimestamp,omitempty"`
}

type apiTitle struct {
	Ns    int    `json:"ns"`
	Title string `json:"title"`
}

type apiRevision struct {
	Slots struct {
		Main struct {
			Content string `json:"content"`
		} `json:"main"`
	} `json:"slots"`
}

type apiImageInfo struct {
	Timestamp  time.Time `json:"timestamp"`
	User       string    `json:"user"`
	Size       int64     `json:"size"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Mime       string    `json:"mime"`
	Comment    string    `json:"comment"`
	FileHidden bool      `json:"filehidden"`
}

type apiPageProps struct {
	Disambiguation *string `json:"disambiguation"`
}

type apiPage struct {
	PageID     int            `json:"pageid"`
	Ns         int            `json:"ns"`
	Title      string         `json:"title"`
	Missing    bool           `json:"missing"`
	Redirect   bool           `json:"redirect"`
	Length     int64          `json:"length"`
	PageProps  apiPageProps   `json:"pageprops"`
	Revisions  []apiRevision  `json:"revisions"`
	Categories []apiTitle     `json:"categories"`
	Redirects  []apiTitle     `json:"redirects"`
	Links      []apiTitle     `json:"links"`
	Templates  []apiTitle     `json:"templates"`
	Images     []apiTitle     `json:"images"`
	FileUsage  []apiTitle     `json:"fileusage"`
	ImageInfo  []apiImageInfo `json:"imageinfo"`
}

type apiMapping struct {
	From       string `json:"from"`
	To         string `json:"to"`
	ToFragment string `json:"tofragment"`
}

type apiLogEvent struct {
	Params struct {
		TargetNs    int    `json:"target_ns"`
		TargetTitle string `json:"target_title"`
	} `json:"params"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Comment   string    `json:"comment"`
}

type apiNamespace struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Canonical string `json:"canonical"`
}

type apiNamespaceAlias struct {
	ID    int    `json:"id"`
	Alias string `json:"alias"`
}

type apiQuery struct {
	Pages            []apiPage               `json:"pages"`
	Normalized       []apiMapping            `json:"normalized"`
	Redirects        []apiMapping            `json:"redirects"`
	CategoryMembers  []apiTitle              `json:"categorymembers"`
	LogEvents        []apiLogEvent           `json:"logevents"`
	Namespaces       map[string]apiNamespace `json:"namespaces"`
	NamespaceAliases []apiNamespaceAlias     `json:"namespacealiases"`
}

type queryResponse struct {
	Continue     map[string]json.RawMessage `json:"continue"`
	CurTimestamp string                     `json:"curtimestamp"`
	Query        apiQuery                   `json:"query"`
}

// query runs one action=query call, following continuation until the result
// set is complete. visit sees every response batch.
func (s *APISite) query(ctx context.Context, params queryParams, visit func(*queryResponse)) error {
	vals, err := apiValues(params)
	if err != nil {
		return err
	}
	for {
		var resp queryResponse
		if err := s.client.Do(ctx, http.MethodGet, vals, &resp); err != nil {
			return err
		}
		visit(&resp)
		if len(resp.Continue) == 0 {
			return nil
		}
		for k, raw := range resp.Continue {
			var str string
			if err := json.Unmarshal(raw, &str); err != nil {
				// numbers continue as their literal digits
				str = string(raw)
			}
			vals.Set(k, str)
		}
	}
}

func (s *APISite) loadSiteInfo(ctx context.Context) error {
	var got bool
	err := s.query(ctx, queryParams{
		Action: "query",
		Meta:   "siteinfo",
		SiProp: "namespaces|namespacealiases",
	}, func(resp *queryResponse) {
		if len(resp.Query.Namespaces) == 0 {
			return
		}
		got = true
		ns := &Namespaces{
			names:   make(map[int]string),
			numbers: make(map[string]int),
		}
		for _, info := range resp.Query.Namespaces {
			ns.Register(info.ID, info.Name)
			if info.Canonical != "" && info.Canonical != info.Name {
				ns.RegisterAlias(info.ID, info.Canonical)
			}
		}
		for _, alias := range resp.Query.NamespaceAliases {
			ns.RegisterAlias(alias.ID, alias.Alias)
		}
		s.ns = ns
	})
	if err != nil {
		return err
	}
	if !got {
		return fmt.Errorf("response carried no namespace table")
	}
	return nil
}

// titleFromAPI builds a Title from a response entry. The namespace number
// is taken from the response; the textual prefix is split off and kept for
// rendering, so namespaces outside the static table survive a round trip.
func (s *APISite) titleFromAPI(ns int, full string) Title {
	name := full
	prefix := ""
	if ns != NsMain {
		if i := strings.IndexByte(full, ':'); i >= 0 {
			prefix = full[:i]
			name = full[i+1:]
		}
	}
	return Title{Namespace: ns, Name: name, Prefix: prefix}
}

func pipeJoin(namespaces []int) string {
	if len(namespaces) == 0 {
		return ""
	}
	parts := make([]string, len(namespaces))
	for i, ns := range namespaces {
		parts[i] = strconv.Itoa(ns)
	}
	return strings.Join(parts, "|")
}

// PageInfo reports on a single page. Exists describes the queried page
// itself; Disambiguation and Length describe the end of the redirect chain,
// which is what callers deciding where a link leads want to know.
func (s *APISite) PageInfo(ctx context.Context, title Title) (*PageInfo, error) {
	info := &PageInfo{Title: title}
	err := s.query(ctx, queryParams{
		Action:    "query",
		Titles:    title.String(),
		Prop:      "info|pageprops",
		PpProp:    "disambiguation",
		Redirects: true,
	}, func(resp *queryResponse) {
		target, redirected := resolveMappings(title.String(), resp.Query.Normalized, resp.Query.Redirects)
		if redirected {
			t, err := ParseTitle(s.ns, target)
			if err == nil {
				info.RedirectTo = &t
			}
		}
		for i := range resp.Query.Pages {
			page := &resp.Query.Pages[i]
			if info.RedirectTo != nil {
				// the response page describes the redirect target
				info.Exists = true
			} else {
				info.Exists = !page.Missing
			}
			info.Disambiguation = page.PageProps.Disambiguation != nil
			info.Length = page.Length
		}
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// resolveMappings walks the normalization and redirect mappings of a query
// response from the requested title to the final target. The step cap keeps
// a pathological mapping from looping.
func resolveMappings(from string, normalized, redirects []apiMapping) (string, bool) {
	for _, m := range normalized {
		if m.From == from {
			from = m.To
			break
		}
	}
	target := from
	redirected := false
	for steps := 0; steps <= len(redirects); steps++ {
		advanced := false
		for _, m := range redirects {
			if m.From == target {
				target = m.To
				if m.ToFragment != "" {
					target += "#" + m.ToFragment
				}
				redirected = true
				advanced = true
				break
			}
		}
		if !advanced {
			break
		}
	}
	return target, redirected
}

func (s *APISite) PageText(ctx context.Context, title Title) (string, error) {
	var text string
	missing := true
	err := s.query(ctx, queryParams{
		Action:  "query",
		Titles:  title.String(),
		Prop:    "revisions",
		RvProp:  "content",
		RvSlots: "main",
	}, func(resp *queryResponse) {
		for i := range resp.Query.Pages {
			page := &resp.Query.Pages[i]
			if page.Missing {
				continue
			}
			missing = false
			if len(page.Revisions) > 0 {
				text = page.Revisions[0].Slots.Main.Content
			}
		}
	})
	if err != nil {
		return "", err
	}
	if missing {
		return "", fmt.Errorf("%w: %s", ErrPageMissing, title)
	}
	return text, nil
}

func (s *APISite) Categories(ctx context.Context, title Title) ([]string, error) {
	var out []string
	err := s.query(ctx, queryParams{
		Action:  "query",
		Titles:  title.String(),
		Prop:    "categories",
		ClLimit: "max",
	}, func(resp *queryResponse) {
		for i := range resp.Query.Pages {
			for _, cat := range resp.Query.Pages[i].Categories {
				out = append(out, cat.Title)
			}
		}
	})
	return out, err
}

func (s *APISite) CategoryMembers(ctx context.Context, category Title, namespaces ...int) ([]Title, error) {
	var out []Title
	err := s.query(ctx, queryParams{
		Action:      "query",
		List:        "categorymembers",
		CmTitle:     category.String(),
		CmLimit:     "max",
		CmNamespace: pipeJoin(namespaces),
	}, func(resp *queryResponse) {
		for _, m := range resp.Query.CategoryMembers {
			out = append(out, s.titleFromAPI(m.Ns, m.Title))
		}
	})
	return out, err
}

func (s *APISite) Redirects(ctx context.Context, title Title, namespaces ...int) ([]Title, error) {
	var out []Title
	err := s.query(ctx, queryParams{
		Action:      "query",
		Titles:      title.String(),
		Prop:        "redirects",
		RdLimit:     "max",
		RdNamespace: pipeJoin(namespaces),
	}, func(resp *queryResponse) {
		for i := range resp.Query.Pages {
			for _, r := range resp.Query.Pages[i].Redirects {
				out = append(out, s.titleFromAPI(r.Ns, r.Title))
			}
		}
	})
	return out, err
}

func (s *APISite) Links(ctx context.Context, title Title, namespaces ...int) ([]Title, error) {
	var out []Title
	err := s.query(ctx, queryParams{
		Action:      "query",
		Titles:      title.String(),
		Prop:        "links",
		PlLimit:     "max",
		PlNamespace: pipeJoin(namespaces),
	}, func(resp *queryResponse) {
		for i := range resp.Query.Pages {
			for _, l := range resp.Query.Pages[i].Links {
				out = append(out, s.titleFromAPI(l.Ns, l.Title))
			}
		}
	})
	return out, err
}

func (s *APISite) Templates(ctx context.Context, title Title, namespaces ...int) ([]Title, error) {
	var out []Title
	err := s.query(ctx, queryParams{
		Action:      "query",
		Titles:      title.String(),
		Prop:        "templates",
		TlLimit:     "max",
		TlNamespace: pipeJoin(namespaces),
	}, func(resp *queryResponse) {
		for i := range resp.Query.Pages {
			for _, t := range resp.Query.Pages[i].Templates {
				out = append(out, s.titleFromAPI(t.Ns, t.Title))
			}
		}
	})
	return out, err
}

func (s *APISite) FileUsage(ctx context.Context, file Title) ([]Title, error) {
	var out []Title
	err := s.query(ctx, queryParams{
		Action:  "query",
		Titles:  file.String(),
		Prop:    "fileusage",
		FuLimit: "max",
	}, func(resp *queryResponse) {
		for i := range resp.Query.Pages {
			for _, u := range resp.Query.Pages[i].FileUsage {
				out = append(out, s.titleFromAPI(u.Ns, u.Title))
			}
		}
	})
	return out, err
}

func (s *APISite) ImageLinks(ctx context.Context, title Title) ([]Title, error) {
	var out []Title
	err := s.query(ctx, queryParams{
		Action:  "query",
		Titles:  title.String(),
		Prop:    "images",
		ImLimit: "max",
	}, func(resp *queryResponse) {
		for i := range resp.Query.Pages {
			for _, img := range resp.Query.Pages[i].Images {
				out = append(out, s.titleFromAPI(img.Ns, img.Title))
			}
		}
	})
	return out, err
}

func (s *APISite) FileHistory(ctx context.Context, file Title) ([]FileRevision, error) {
	var out []FileRevision
	err := s.query(ctx, queryParams{
		Action:  "query",
		Titles:  file.String(),
		Prop:    "imageinfo",
		IiProp:  "timestamp|user|size|dimensions|comment",
		IiLimit: "max",
	}, func(resp *queryResponse) {
		for i := range resp.Query.Pages {
			for _, ii := range resp.Query.Pages[i].ImageInfo {
				out = append(out, FileRevision{
					Timestamp: ii.Timestamp,
					User:      ii.User,
					Width:     ii.Width,
					Height:    ii.Height,
					Size:      ii.Size,
					Comment:   ii.Comment,
					Hidden:    ii.FileHidden,
				})
			}
		}
	})
	return out, err
}

func (s *APISite) ImageInfo(ctx context.Context, file Title) (*ImageInfo, error) {
	var out *ImageInfo
	err := s.query(ctx, queryParams{
		Action:  "query",
		Titles:  file.String(),
		Prop:    "imageinfo",
		IiProp:  "size|mime|dimensions",
		IiLimit: "1",
	}, func(resp *queryResponse) {
		for i := range resp.Query.Pages {
			for _, ii := range resp.Query.Pages[i].ImageInfo {
				out = &ImageInfo{
					Width:  ii.Width,
					Height: ii.Height,
					Size:   ii.Size,
					Mime:   ii.Mime,
				}
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s has no image info", ErrPageMissing, file)
	}
	return out, nil
}

func (s *APISite) MoveLog(ctx context.Context, title Title) ([]MoveLogEntry, error) {
	var out []MoveLogEntry
	err := s.query(ctx, queryParams{
		Action:  "query",
		List:    "logevents",
		LeType:  "move",
		LeTitle: title.String(),
		LeLimit: "max",
	}, func(resp *queryResponse) {
		for _, ev := range resp.Query.LogEvents {
			if ev.Params.TargetTitle == "" {
				continue
			}
			out = append(out, MoveLogEntry{
				Target:    s.titleFromAPI(ev.Params.TargetNs, ev.Params.TargetTitle),
				Timestamp: ev.Timestamp,
				User:      ev.User,
				Comment:   ev.Comment,
			})
		}
	})
	return out, err
}

type expandParams struct {
	Action string `url:"action"`
	Text   string `url:"text"`
	Title  string `url:"title,omitempty"`
	Prop   string `url:"prop"`
}

// ExpandText expands templates in a fragment server-side. POSTed because
// rationale fragments can exceed URL length limits.
func (s *APISite) ExpandText(ctx context.Context, text string, title Title) (string, error) {
	var resp struct {
		ExpandTemplates struct {
			Wikitext string `json:"wikitext"`
		} `json:"expandtemplates"`
	}
	err := s.client.Post(ctx, expandParams{
		Action: "expandtemplates",
		Text:   text,
		Title:  title.String(),
		Prop:   "wikitext",
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ExpandTemplates.Wikitext, nil
}

func (s *APISite) ServerTime(ctx context.Context) (time.Time, error) {
	var stamp string
	err := s.query(ctx, queryParams{
		Action:       "query",
		CurTimestamp: true,
	}, func(resp *queryResponse) {
		stamp = resp.CurTimestamp
	})
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing server timestamp %q: %w", stamp, err)
	}
	return t, nil
}

type editParams struct {
	Action       string `url:"action"`
	Title        string `url:"title"`
	Text         string `url:"text"`
	Summary      string `url:"summary,omitempty"`
	Minor        bool   `url:"minor,omitempty"`
	Bot          bool   `url:"bot,omitempty"`
	NoCreate     bool   `url:"nocreate,omitempty"`
	Section      string `url:"section,omitempty"`
	SectionTitle string `url:"sectiontitle,omitempty"`
	Watchlist    string `url:"watchlist"`
	Assert       string `url:"assert,omitempty"`
	Token        string `url:"token"`
}

// Save writes one page. The client's rate limiter is applied here, so the
// write cadence holds no matter which bot is saving. A stale edit token is
// refreshed and retried once; every other platform refusal comes back as
// ErrSaveRejected.
func (s *APISite) Save(ctx context.Context, req *SaveRequest) error {
	if s.client.Limiter != nil {
		if err := s.client.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	retried := false
	for {
		token, err := s.client.CsrfToken(ctx)
		if err != nil {
			return err
		}
		params := editParams{
			Action:    "edit",
			Title:     req.Title.String(),
			Text:      req.Text,
			Summary:   req.Summary,
			Minor:     req.Minor,
			Bot:       req.Bot,
			NoCreate:  req.NoCreate,
			Watchlist: "nochange",
			Token:     token,
		}
		if req.NewSection != "" {
			params.Section = "new"
			params.SectionTitle = req.NewSection
		}
		if s.client.Username() != "" {
			params.Assert = "user"
		}
		var resp struct {
			Edit struct {
				Result   string `json:"result"`
				NewRevID int64  `json:"newrevid"`
				NoChange bool   `json:"nochange"`
			} `json:"edit"`
		}
		err = s.client.Post(ctx, params, &resp)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.Code == "badtoken" && !retried {
				retried = true
				s.client.InvalidateToken()
				continue
			}
			siteSaveCount.WithLabelValues("rejected").Inc()
			return fmt.Errorf("%w: %v", ErrSaveRejected, apiErr)
		}
		if err != nil {
			siteSaveCount.WithLabelValues("error").Inc()
			return err
		}
		if resp.Edit.Result != "Success" {
			siteSaveCount.WithLabelValues("rejected").Inc()
			return fmt.Errorf("%w: edit result %q", ErrSaveRejected, resp.Edit.Result)
		}
		siteSaveCount.WithLabelValues("ok").Inc()
		return nil
	}
}
