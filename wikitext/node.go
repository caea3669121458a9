package wikitext

import "strings"

// Node is one piece of parsed wikitext. String returns the exact source
// text of the node, so concatenating a tree in order reproduces the input
// byte for byte.
type Node interface {
	String() string
	// children returns the nested code blocks filters recurse into.
	children() []*Code
}

// Text is a run of plain wikitext nothing else claimed.
type Text struct {
	Raw string
}

func (t *Text) String() string    { return t.Raw }
func (t *Text) children() []*Code { return nil }

// Comment is one closed "<!-- -->" span. An unterminated comment stays
// plain text.
type Comment struct {
	Raw string
}

func (c *Comment) String() string    { return c.Raw }
func (c *Comment) children() []*Code { return nil }

// Inner returns the comment body without the delimiters.
func (c *Comment) Inner() string {
	return strings.TrimSuffix(strings.TrimPrefix(c.Raw, "<!--"), "-->")
}

// Template is one "{{...}}" transclusion.
type Template struct {
	// RawName is the name exactly as written, surrounding whitespace
	// included.
	RawName string
	Params  []*Param
}

func (t *Template) String() string {
	var b strings.Builder
	b.WriteString("{{")
	b.WriteString(t.RawName)
	for _, p := range t.Params {
		b.WriteByte('|')
		b.WriteString(p.String())
	}
	b.WriteString("}}")
	return b.String()
}

func (t *Template) children() []*Code {
	var out []*Code
	for _, p := range t.Params {
		out = append(out, p.Code())
	}
	return out
}

// Name returns the trimmed template name.
func (t *Template) Name() string {
	return strings.TrimSpace(t.RawName)
}

// Param returns the last parameter whose name matches, or nil. Later
// duplicates win, matching how the platform renders them.
func (t *Template) Param(name string) *Param {
	for i := len(t.Params) - 1; i >= 0; i-- {
		if t.Params[i].NameMatches(name) {
			return t.Params[i]
		}
	}
	return nil
}

// SetParam replaces the value of the named parameter, preserving the
// whitespace around the old value. A missing parameter is appended in
// "|name=value" form.
func (t *Template) SetParam(name, value string) {
	if p := t.Param(name); p != nil {
		p.SetValue(value)
		return
	}
	t.Params = append(t.Params, &Param{RawName: name, RawValue: value, Named: true})
}

// RemoveParam drops a parameter. With keepField the "|name=" skeleton and
// the whitespace margins of the value survive; only the content goes.
func (t *Template) RemoveParam(target *Param, keepField bool) {
	for i, p := range t.Params {
		if p != target {
			continue
		}
		if keepField {
			p.SetValue("")
			return
		}
		t.Params = append(t.Params[:i], t.Params[i+1:]...)
		return
	}
}

// Param is a single template parameter. Positional parameters have
// Named == false and an empty RawName.
type Param struct {
	RawName  string
	RawValue string
	Named    bool

	code *Code
}

func (p *Param) String() string {
	if p.Named {
		return p.RawName + "=" + p.rawValue()
	}
	return p.rawValue()
}

func (p *Param) children() []*Code { return []*Code{p.Code()} }

func (p *Param) rawValue() string {
	if p.code != nil {
		return p.code.String()
	}
	return p.RawValue
}

// Name returns the trimmed parameter name.
func (p *Param) Name() string {
	return strings.TrimSpace(p.RawName)
}

// Value returns the trimmed parameter value.
func (p *Param) Value() string {
	return strings.TrimSpace(p.rawValue())
}

// NameMatches compares parameter names the way the platform does: ignoring
// surrounding whitespace and the case of the first letter only.
func (p *Param) NameMatches(name string) bool {
	return titleCaseEqual(p.Name(), strings.TrimSpace(name))
}

// Code returns the parsed parameter value. Mutations through the returned
// code reflect in the rendered template.
func (p *Param) Code() *Code {
	if p.code == nil {
		p.code = Parse(p.RawValue)
	}
	return p.code
}

// SetValue replaces the parameter value, keeping the whitespace margins of
// the old value so multi-line templates keep their shape.
func (p *Param) SetValue(value string) {
	lead, _, trail := splitMargins(p.rawValue())
	p.code = nil
	p.RawValue = lead + value + trail
}

// WikiLink is one "[[target]]" or "[[target|text]]" link.
type WikiLink struct {
	RawTarget string
	// RawText is everything after the first pipe. Meaningful only when
	// Piped; it can itself contain pipes and markup.
	RawText string
	Piped   bool

	textCode *Code
}

func (l *WikiLink) String() string {
	var b strings.Builder
	b.WriteString("[[")
	b.WriteString(l.RawTarget)
	if l.Piped {
		b.WriteByte('|')
		if l.textCode != nil {
			b.WriteString(l.textCode.String())
		} else {
			b.WriteString(l.RawText)
		}
	}
	b.WriteString("]]")
	return b.String()
}

func (l *WikiLink) children() []*Code {
	if !l.Piped {
		return nil
	}
	return []*Code{l.Text()}
}

// Target returns the trimmed link target.
func (l *WikiLink) Target() string {
	return strings.TrimSpace(l.RawTarget)
}

// SetTarget replaces the link target, keeping the whitespace margins.
func (l *WikiLink) SetTarget(target string) {
	lead, _, trail := splitMargins(l.RawTarget)
	l.RawTarget = lead + target + trail
}

// Text returns the parsed link text.
func (l *WikiLink) Text() *Code {
	if l.textCode == nil {
		l.textCode = Parse(l.RawText)
	}
	return l.textCode
}

// Heading is one "== title ==" line.
type Heading struct {
	Level int
	// RawTitle is the text between the equals runs.
	RawTitle string
	// Trailing is the spaces and tabs after the closing run, before the
	// line break.
	Trailing string

	titleCode *Code
}

func (h *Heading) String() string {
	marker := strings.Repeat("=", h.Level)
	title := h.RawTitle
	if h.titleCode != nil {
		title = h.titleCode.String()
	}
	return marker + title + marker + h.Trailing
}

func (h *Heading) children() []*Code {
	return []*Code{h.Title()}
}

// Title returns the parsed heading title. Mutations through it reflect in
// the rendered heading.
func (h *Heading) Title() *Code {
	if h.titleCode == nil {
		h.titleCode = Parse(h.RawTitle)
	}
	return h.titleCode
}

// Tag is one parsed extension tag, e.g. "<gallery>...</gallery>". Contents
// stay raw: gallery and imagemap bodies are line-oriented, and the disabled
// tags must never be interpreted.
type Tag struct {
	// Name is the lower-cased tag name.
	Name string
	// RawOpen is the exact opening tag, angle brackets included.
	RawOpen string
	// Contents is the raw body. Empty for a self-closed tag.
	Contents string
	// RawClose is the exact closing tag, empty for a self-closed tag.
	RawClose   string
	SelfClosed bool
}

func (t *Tag) String() string {
	return t.RawOpen + t.Contents + t.RawClose
}

func (t *Tag) children() []*Code { return nil }

// Lines splits the tag body into lines, dropping the final newline the
// way gallery and imagemap bodies are read line by line.
func (t *Tag) Lines() []string {
	if t.Contents == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(t.Contents, "\n"), "\n")
}

// SetLines replaces the tag body with the given lines plus a final
// newline before the closing tag.
func (t *Tag) SetLines(lines []string) {
	t.Contents = strings.Join(lines, "\n") + "\n"
}

// Blank reports whether the tag body has no content left.
func (t *Tag) Blank() bool {
	return strings.TrimSpace(t.Contents) == ""
}

// splitMargins splits a string into leading whitespace, core and trailing
// whitespace.
func splitMargins(s string) (lead, core, trail string) {
	core = strings.TrimLeft(s, " \t\n")
	lead = s[:len(s)-len(core)]
	trimmed := strings.TrimRight(core, " \t\n")
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}

// titleCaseEqual reports equality up to the case of the first letter.
func titleCaseEqual(a, b string) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return upperFirst(a) == upperFirst(b)
}
