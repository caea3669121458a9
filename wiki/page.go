package wiki

import "time"

// PageInfo is the metadata bundle for a single page, as returned by
// [Site.PageInfo]. Redirects are resolved server-side, so RedirectTo always
// points at the end of a redirect chain.
type PageInfo struct {
	// Title is the normalized form of the queried title.
	Title Title
	// Exists is false for pages which have never been created (or were
	// deleted). A redirect page exists; its target may not.
	Exists bool
	// RedirectTo is nil unless the page is a redirect. Section fragments
	// from "#REDIRECT [[Target#Section]]" are preserved.
	RedirectTo *Title
	// Disambiguation is set from the page's disambiguation page property.
	Disambiguation bool
	// Length is the byte length of the latest revision.
	Length int64
}

// IsRedirect reports whether the page is a redirect.
func (pi *PageInfo) IsRedirect() bool {
	return pi.RedirectTo != nil
}

// FileRevision is one entry of a file's upload history.
type FileRevision struct {
	Timestamp time.Time
	User      string
	Width     int
	Height    int
	Size      int64
	Comment   string
	// Hidden revisions had their content suppressed by an administrator;
	// dimensions and size are zero for them.
	Hidden bool
}

// ImageInfo describes the current revision of a file.
type ImageInfo struct {
	Width  int
	Height int
	Size   int64
	Mime   string
}

// Megapixels returns the pixel count of the current revision, in millions.
func (ii *ImageInfo) Megapixels() float64 {
	return float64(ii.Width) * float64(ii.Height) / 1e6
}

// MoveLogEntry is one page-move event from the public log, newest first.
type MoveLogEntry struct {
	// Target is where the page was moved to.
	Target    Title
	Timestamp time.Time
	User      string
	Comment   string
}

// SaveRequest carries one page write. The zero value of the optional fields
// means a plain full-page replacement.
type SaveRequest struct {
	Title   Title
	Text    string
	Summary string
	Minor   bool
	// Bot marks the edit with the bot flag, hiding it from default
	// recent-changes views.
	Bot bool
	// NoCreate refuses to create the page when it does not exist yet,
	// instead of silently creating it.
	NoCreate bool
	// NewSection appends Text as a fresh section with this heading instead
	// of replacing the page.
	NewSection string
}
