package wiki

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheSite wraps an inner Site with per-title LRU caches for the lookups a
// policy run repeats: page metadata, wikitext, categories, redirects and
// transcluded templates. Everything else passes through.
//
// A run touches the same articles over and over while working through the
// files that cite them, so even a small cache collapses most of the API
// traffic.
type CacheSite struct {
	Inner Site

	info       *expirable.LRU[string, PageInfo]
	text       *expirable.LRU[string, string]
	categories *expirable.LRU[string, []string]
	redirects  *expirable.LRU[string, []Title]
	templates  *expirable.LRU[string, []Title]
}

var _ Site = (*CacheSite)(nil)

// NewCacheSite builds a CacheSite. Capacity of zero means unlimited size;
// ttl of zero means entries never expire.
func NewCacheSite(inner Site, capacity int, ttl time.Duration) *CacheSite {
	return &CacheSite{
		Inner:      inner,
		info:       expirable.NewLRU[string, PageInfo](capacity, nil, ttl),
		text:       expirable.NewLRU[string, string](capacity, nil, ttl),
		categories: expirable.NewLRU[string, []string](capacity, nil, ttl),
		redirects:  expirable.NewLRU[string, []Title](capacity, nil, ttl),
		templates:  expirable.NewLRU[string, []Title](capacity, nil, ttl),
	}
}

// Purge drops every cached lookup for a title. Call after saving the page.
func (s *CacheSite) Purge(title Title) {
	key := title.WithoutSection().Key()
	s.info.Remove(key)
	s.text.Remove(key)
	s.categories.Remove(key)
	for _, cache := range []*expirable.LRU[string, []Title]{s.redirects, s.templates} {
		for _, k := range cache.Keys() {
			if k == key || strings.HasPrefix(k, key+"|") {
				cache.Remove(k)
			}
		}
	}
}

// nsKey widens a title key with the namespace filter, which is part of the
// result identity for filtered lookups.
func nsKey(title Title, namespaces []int) string {
	key := title.WithoutSection().Key()
	if len(namespaces) > 0 {
		key += "|" + pipeJoin(namespaces)
	}
	return key
}

func (s *CacheSite) PageInfo(ctx context.Context, title Title) (*PageInfo, error) {
	key := title.WithoutSection().Key()
	if entry, ok := s.info.Get(key); ok {
		siteCacheHits.WithLabelValues("info").Inc()
		return &entry, nil
	}
	siteCacheMisses.WithLabelValues("info").Inc()
	got, err := s.Inner.PageInfo(ctx, title)
	if err != nil {
		return nil, err
	}
	s.info.Add(key, *got)
	return got, nil
}

func (s *CacheSite) PageText(ctx context.Context, title Title) (string, error) {
	key := title.WithoutSection().Key()
	if entry, ok := s.text.Get(key); ok {
		siteCacheHits.WithLabelValues("text").Inc()
		return entry, nil
	}
	siteCacheMisses.WithLabelValues("text").Inc()
	got, err := s.Inner.PageText(ctx, title)
	if err != nil {
		return "", err
	}
	s.text.Add(key, got)
	return got, nil
}

func (s *CacheSite) Categories(ctx context.Context, title Title) ([]string, error) {
	key := title.WithoutSection().Key()
	if entry, ok := s.categories.Get(key); ok {
		siteCacheHits.WithLabelValues("categories").Inc()
		return entry, nil
	}
	siteCacheMisses.WithLabelValues("categories").Inc()
	got, err := s.Inner.Categories(ctx, title)
	if err != nil {
		return nil, err
	}
	s.categories.Add(key, got)
	return got, nil
}

func (s *CacheSite) Redirects(ctx context.Context, title Title, namespaces ...int) ([]Title, error) {
	key := nsKey(title, namespaces)
	if entry, ok := s.redirects.Get(key); ok {
		siteCacheHits.WithLabelValues("redirects").Inc()
		return entry, nil
	}
	siteCacheMisses.WithLabelValues("redirects").Inc()
	got, err := s.Inner.Redirects(ctx, title, namespaces...)
	if err != nil {
		return nil, err
	}
	s.redirects.Add(key, got)
	return got, nil
}

func (s *CacheSite) Templates(ctx context.Context, title Title, namespaces ...int) ([]Title, error) {
	key := nsKey(title, namespaces)
	if entry, ok := s.templates.Get(key); ok {
		siteCacheHits.WithLabelValues("templates").Inc()
		return entry, nil
	}
	siteCacheMisses.WithLabelValues("templates").Inc()
	got, err := s.Inner.Templates(ctx, title, namespaces...)
	if err != nil {
		return nil, err
	}
	s.templates.Add(key, got)
	return got, nil
}

func (s *CacheSite) CategoryMembers(ctx context.Context, category Title, namespaces ...int) ([]Title, error) {
	return s.Inner.CategoryMembers(ctx, category, namespaces...)
}

func (s *CacheSite) Links(ctx context.Context, title Title, namespaces ...int) ([]Title, error) {
	return s.Inner.Links(ctx, title, namespaces...)
}

func (s *CacheSite) FileUsage(ctx context.Context, file Title) ([]Title, error) {
	return s.Inner.FileUsage(ctx, file)
}

func (s *CacheSite) ImageLinks(ctx context.Context, title Title) ([]Title, error) {
	return s.Inner.ImageLinks(ctx, title)
}

func (s *CacheSite) FileHistory(ctx context.Context, file Title) ([]FileRevision, error) {
	return s.Inner.FileHistory(ctx, file)
}

func (s *CacheSite) ImageInfo(ctx context.Context, file Title) (*ImageInfo, error) {
	return s.Inner.ImageInfo(ctx, file)
}

func (s *CacheSite) MoveLog(ctx context.Context, title Title) ([]MoveLogEntry, error) {
	return s.Inner.MoveLog(ctx, title)
}

func (s *CacheSite) ExpandText(ctx context.Context, text string, title Title) (string, error) {
	return s.Inner.ExpandText(ctx, text, title)
}

func (s *CacheSite) Save(ctx context.Context, req *SaveRequest) error {
	err := s.Inner.Save(ctx, req)
	if err == nil {
		s.Purge(req.Title)
	}
	return err
}

func (s *CacheSite) Username() string {
	return s.Inner.Username()
}

func (s *CacheSite) ServerTime(ctx context.Context) (time.Time, error) {
	return s.Inner.ServerTime(ctx)
}

func (s *CacheSite) Namespaces() *Namespaces {
	return s.Inner.Namespaces()
}
