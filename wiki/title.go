package wiki

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Title was empty or contained characters the platform forbids. Callers
// resolving user-supplied link targets should treat this as "not a link",
// not as a fatal condition.
var ErrInvalidTitle = errors.New("invalid title")

// forbidden inside page titles, in addition to control characters
const illegalTitleChars = "<>[]{}|"

// Title identifies a page: a namespace number plus the normalized page name.
// The optional section fragment is carried along but is not part of page
// identity.
//
// Always construct titles through [ParseTitle] or [ParseWikilink]; the zero
// value is not a valid title.
type Title struct {
	Namespace int
	Name      string
	Section   string
	// Prefix is the canonical namespace name used when rendering the
	// title. Parsing fills it from the namespace table; it lets titles
	// from site-specific namespaces the static table does not know
	// round-trip intact. Identity ignores it.
	Prefix string
}

// ParseTitle normalizes a raw title string into a Title. It trims
// whitespace, strips one leading colon, splits off a "#section" fragment,
// resolves a namespace prefix against the table, folds underscore and
// whitespace runs into single spaces, NFC-normalizes, and upper-cases the
// first letter of the page name. Malformed input returns a wrapped
// [ErrInvalidTitle].
func ParseTitle(ns *Namespaces, raw string) (Title, error) {
	return parseTitle(ns, raw, NsMain)
}

// ParseWikilink parses the target of a wikilink or template invocation.
// Surrounding "[[...]]" brackets and any "|display text" are stripped first.
// When the target carries no recognized namespace prefix it lands in
// defaultNS (template name resolution passes NsTemplate); a leading colon
// forces the main namespace, matching transclusion syntax.
func ParseWikilink(ns *Namespaces, raw string, defaultNS int) (Title, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[[") && strings.HasSuffix(raw, "]]") {
		raw = raw[2 : len(raw)-2]
	}
	if i := strings.IndexByte(raw, '|'); i >= 0 {
		raw = raw[:i]
	}
	return parseTitle(ns, raw, defaultNS)
}

// ParseFileTitle parses a raw link target that is expected to name a file:
// a bare gallery line, an "[[File:...]]" embed, or a template parameter
// value. Targets without a prefix default into the file namespace; anything
// resolving elsewhere is rejected.
func ParseFileTitle(ns *Namespaces, raw string) (Title, error) {
	t, err := ParseWikilink(ns, raw, NsFile)
	if err != nil {
		return Title{}, err
	}
	if t.Namespace != NsFile {
		return Title{}, fmt.Errorf("%w: %q is not a file title", ErrInvalidTitle, raw)
	}
	return t, nil
}

func parseTitle(ns *Namespaces, raw string, defaultNS int) (Title, error) {
	s := norm.NFC.String(raw)
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.TrimSpace(s)
	forcedMain := false
	if strings.HasPrefix(s, ":") {
		forcedMain = true
		s = strings.TrimSpace(s[1:])
	}
	var section string
	if i := strings.IndexByte(s, '#'); i >= 0 {
		section = strings.TrimSpace(s[i+1:])
		s = strings.TrimSpace(s[:i])
	}
	t := Title{Namespace: defaultNS, Section: section}
	if forcedMain {
		t.Namespace = NsMain
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if id, ok := ns.Lookup(s[:i]); ok {
			t.Namespace = id
			s = strings.TrimSpace(s[i+1:])
		}
	}
	t.Prefix = ns.Name(t.Namespace)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return Title{}, fmt.Errorf("%w: empty page name in %q", ErrInvalidTitle, raw)
	}
	if i := strings.IndexAny(s, illegalTitleChars); i >= 0 {
		return Title{}, fmt.Errorf("%w: %q contains %q", ErrInvalidTitle, raw, s[i])
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return Title{}, fmt.Errorf("%w: %q contains a control character", ErrInvalidTitle, raw)
		}
	}
	if strings.Contains(s, "~~~") {
		return Title{}, fmt.Errorf("%w: %q contains a signature sequence", ErrInvalidTitle, raw)
	}
	if len(s) > 255 {
		return Title{}, fmt.Errorf("%w: %q is longer than 255 bytes", ErrInvalidTitle, raw)
	}
	t.Name = upperFirst(s)
	return t, nil
}

// String returns the canonical full page name, without the section fragment.
func (t Title) String() string {
	if t.Namespace == NsMain {
		return t.Name
	}
	prefix := t.Prefix
	if prefix == "" {
		prefix = defaultNamespaces.Name(t.Namespace)
	}
	if prefix == "" {
		return t.Name
	}
	return prefix + ":" + t.Name
}

// WithSection returns the full page name including the "#section" fragment,
// when one is present.
func (t Title) WithSection() string {
	if t.Section == "" {
		return t.String()
	}
	return t.String() + "#" + t.Section
}

// WithoutSection returns a copy of the title with the section dropped.
func (t Title) WithoutSection() Title {
	t.Section = ""
	return t
}

// Key returns the string used for title identity comparisons. The section
// fragment does not participate in identity; neither does the rendering
// prefix, so titles for the same page always collide.
func (t Title) Key() string {
	return strconv.Itoa(t.Namespace) + ":" + t.Name
}

// SameAs reports whether two titles identify the same page.
func (t Title) SameAs(other Title) bool {
	return t.Namespace == other.Namespace && t.Name == other.Name
}

// Underscored returns the page name with spaces as underscores, the form
// used in URLs and title regexes.
func (t Title) Underscored() string {
	return strings.ReplaceAll(t.Name, " ", "_")
}

// IsArticle reports whether the title lives in the article (main) namespace.
func (t Title) IsArticle() bool {
	return t.Namespace == NsMain
}

// AsLink renders the title as a wikilink. Files and categories get the
// leading colon so the link displays instead of embedding.
func (t Title) AsLink() string {
	if t.Namespace == NsFile || t.Namespace == NsCategory {
		return "[[:" + t.String() + "]]"
	}
	return "[[" + t.String() + "]]"
}

// fallback for rendering hand-constructed titles with no Prefix
var defaultNamespaces = DefaultNamespaces()

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	up := unicode.ToUpper(r)
	if up == r {
		return s
	}
	return string(up) + s[size:]
}
