// Package wikitext is a small wiki markup parser for bot edits. It parses
// only the constructs the bots inspect: templates, wiki links, headings,
// comments and a fixed set of extension tags. Everything it does not
// understand stays plain text, and an unterminated construct falls back to
// plain text, so Code.String reproduces the input byte for byte until the
// tree is mutated.
package wikitext

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// parsedTags are the extension tags lifted into Tag nodes. Their bodies
// are opaque to the rest of the markup.
var parsedTags = map[string]bool{
	"gallery":         true,
	"imagemap":        true,
	"nowiki":          true,
	"pre":             true,
	"source":          true,
	"syntaxhighlight": true,
}

// Code is a parsed sequence of nodes.
type Code struct {
	nodes []Node
}

// Parse parses wikitext. It never fails: markup it does not understand
// stays plain text.
func Parse(text string) *Code {
	p := &parser{src: text}
	return &Code{nodes: p.run()}
}

func (c *Code) String() string {
	var b strings.Builder
	for _, n := range c.nodes {
		b.WriteString(n.String())
	}
	return b.String()
}

// Nodes returns the top-level nodes in document order.
func (c *Code) Nodes() []Node {
	return c.nodes
}

func (c *Code) walk(fn func(Node) bool) bool {
	for _, n := range c.nodes {
		if !fn(n) {
			return false
		}
		for _, child := range n.children() {
			if !child.walk(fn) {
				return false
			}
		}
	}
	return true
}

// Templates returns every template in the tree, outermost first, nested
// ones included.
func (c *Code) Templates() []*Template {
	var out []*Template
	c.walk(func(n Node) bool {
		if t, ok := n.(*Template); ok {
			out = append(out, t)
		}
		return true
	})
	return out
}

// WikiLinks returns every wiki link in the tree, nested ones included.
func (c *Code) WikiLinks() []*WikiLink {
	var out []*WikiLink
	c.walk(func(n Node) bool {
		if l, ok := n.(*WikiLink); ok {
			out = append(out, l)
		}
		return true
	})
	return out
}

// Headings returns every heading in the tree.
func (c *Code) Headings() []*Heading {
	var out []*Heading
	c.walk(func(n Node) bool {
		if h, ok := n.(*Heading); ok {
			out = append(out, h)
		}
		return true
	})
	return out
}

// Tags returns every parsed extension tag. With names given, only tags
// with one of those lower-case names are returned.
func (c *Code) Tags(names ...string) []*Tag {
	var out []*Tag
	c.walk(func(n Node) bool {
		t, ok := n.(*Tag)
		if !ok {
			return true
		}
		if len(names) == 0 {
			out = append(out, t)
			return true
		}
		for _, name := range names {
			if t.Name == name {
				out = append(out, t)
				break
			}
		}
		return true
	})
	return out
}

// Remove deletes the first occurrence of node anywhere in the tree,
// template parameters and heading titles included. It reports whether the
// node was found.
func (c *Code) Remove(node Node) bool {
	for i, n := range c.nodes {
		if n == node {
			c.nodes = append(c.nodes[:i], c.nodes[i+1:]...)
			return true
		}
		for _, child := range n.children() {
			if child.Remove(node) {
				return true
			}
		}
	}
	return false
}

type parser struct {
	src string
	pos int
	buf strings.Builder
	out []Node
}

func (p *parser) run() []Node {
	for p.pos < len(p.src) {
		rest := p.src[p.pos:]
		switch {
		case strings.HasPrefix(rest, "<!--"):
			p.comment(rest)
		case strings.HasPrefix(rest, "{{{"):
			p.tripleBrace(rest)
		case strings.HasPrefix(rest, "{{"):
			p.template(rest)
		case strings.HasPrefix(rest, "[["):
			p.wikiLink(rest)
		case rest[0] == '=' && p.atLineStart():
			p.heading(rest)
		case rest[0] == '<':
			p.tag(rest)
		default:
			p.literal(1)
		}
	}
	p.flush()
	return p.out
}

func (p *parser) atLineStart() bool {
	return p.pos == 0 || p.src[p.pos-1] == '\n'
}

// literal moves n source bytes into the pending text run.
func (p *parser) literal(n int) {
	p.buf.WriteString(p.src[p.pos : p.pos+n])
	p.pos += n
}

func (p *parser) flush() {
	if p.buf.Len() == 0 {
		return
	}
	p.out = append(p.out, &Text{Raw: p.buf.String()})
	p.buf.Reset()
}

func (p *parser) emit(n Node, size int) {
	p.flush()
	p.out = append(p.out, n)
	p.pos += size
}

func (p *parser) comment(rest string) {
	end := strings.Index(rest[4:], "-->")
	if end < 0 {
		p.literal(4)
		return
	}
	size := 4 + end + 3
	p.emit(&Comment{Raw: rest[:size]}, size)
}

// tripleBrace consumes a {{{...}}} template argument as plain text. The
// bots never instantiate templates, so arguments carry no structure worth
// keeping.
func (p *parser) tripleBrace(rest string) {
	end := argEnd(rest)
	if end < 0 {
		// A stray brace: the following "{{" may still open a template.
		p.literal(1)
		return
	}
	p.literal(end)
}

func argEnd(s string) int {
	end := strings.Index(s[3:], "}}}")
	if end < 0 {
		return -1
	}
	return 3 + end + 3
}

func (p *parser) template(rest string) {
	inner := rest[2:]
	closer := findTop(inner, func(s string) bool { return strings.HasPrefix(s, "}}") })
	if closer < 0 {
		p.literal(2)
		return
	}
	p.emit(buildTemplate(inner[:closer]), 2+closer+2)
}

func buildTemplate(inner string) *Template {
	parts := splitTop(inner, '|')
	t := &Template{RawName: parts[0]}
	for _, part := range parts[1:] {
		t.Params = append(t.Params, buildParam(part))
	}
	return t
}

func buildParam(raw string) *Param {
	eq := findTop(raw, func(s string) bool { return s[0] == '=' })
	if eq < 0 {
		return &Param{RawValue: raw}
	}
	return &Param{RawName: raw[:eq], RawValue: raw[eq+1:], Named: true}
}

func (p *parser) wikiLink(rest string) {
	inner := rest[2:]
	closer := findTop(inner, func(s string) bool { return strings.HasPrefix(s, "]]") })
	if closer < 0 {
		p.literal(2)
		return
	}
	node, ok := buildWikiLink(inner[:closer])
	if !ok {
		p.literal(2)
		return
	}
	p.emit(node, 2+closer+2)
}

func buildWikiLink(inner string) (*WikiLink, bool) {
	l := &WikiLink{RawTarget: inner}
	if pipe := findTop(inner, func(s string) bool { return s[0] == '|' }); pipe >= 0 {
		l.RawTarget = inner[:pipe]
		l.RawText = inner[pipe+1:]
		l.Piped = true
	}
	if l.Target() == "" || strings.ContainsAny(l.RawTarget, "\n<>[]{}") {
		return nil, false
	}
	return l, true
}

func (p *parser) heading(rest string) {
	lineLen := strings.IndexByte(rest, '\n')
	if lineLen < 0 {
		lineLen = len(rest)
	}
	node, ok := buildHeading(rest[:lineLen])
	if !ok {
		p.literal(1)
		return
	}
	p.emit(node, lineLen)
}

func buildHeading(line string) (*Heading, bool) {
	core := strings.TrimRight(line, " \t")
	if len(core) < 3 || core[0] != '=' || core[len(core)-1] != '=' {
		return nil, false
	}
	lead := runLen(core, '=')
	trail := 0
	for trail < len(core) && core[len(core)-1-trail] == '=' {
		trail++
	}
	level := min(lead, trail, 6, (len(core)-1)/2)
	if level < 1 {
		return nil, false
	}
	return &Heading{
		Level:    level,
		RawTitle: core[level : len(core)-level],
		Trailing: line[len(core):],
	}, true
}

func runLen(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

func (p *parser) tag(rest string) {
	node, size, ok := tagAt(rest)
	if !ok {
		p.literal(1)
		return
	}
	p.emit(node, size)
}

// tagAt parses one extension tag at the start of s.
func tagAt(s string) (*Tag, int, bool) {
	if len(s) < 3 || s[0] != '<' {
		return nil, 0, false
	}
	nameLen := 0
	for 1+nameLen < len(s) && isTagNameByte(s[1+nameLen]) {
		nameLen++
	}
	if nameLen == 0 || 1+nameLen >= len(s) {
		return nil, 0, false
	}
	name := strings.ToLower(s[1 : 1+nameLen])
	if !parsedTags[name] {
		return nil, 0, false
	}
	if b := s[1+nameLen]; b != '>' && b != '/' && !isTagSpace(b) {
		return nil, 0, false
	}
	// Attributes run to the first ">"; a "<" before it means the tag was
	// never closed.
	gt := strings.IndexAny(s[1+nameLen:], "<>")
	if gt < 0 || s[1+nameLen+gt] != '>' {
		return nil, 0, false
	}
	openEnd := 1 + nameLen + gt + 1
	tag := &Tag{Name: name, RawOpen: s[:openEnd]}
	if strings.HasSuffix(strings.TrimRight(s[:openEnd-1], " \t"), "/") {
		tag.SelfClosed = true
		return tag, openEnd, true
	}
	closeStart, closeEnd := closeTag(s, openEnd, name)
	if closeStart < 0 {
		return nil, 0, false
	}
	tag.Contents = s[openEnd:closeStart]
	tag.RawClose = s[closeStart:closeEnd]
	return tag, closeEnd, true
}

// closeTag finds the first matching close tag after from. Extension tag
// bodies are opaque, so nesting does not apply.
func closeTag(s string, from int, name string) (start, end int) {
	for i := from; i+1 < len(s); i++ {
		if s[i] != '<' || s[i+1] != '/' {
			continue
		}
		j := i + 2
		if j+len(name) > len(s) || !strings.EqualFold(s[j:j+len(name)], name) {
			continue
		}
		j += len(name)
		for j < len(s) && isTagSpace(s[j]) {
			j++
		}
		if j < len(s) && s[j] == '>' {
			return i, j + 1
		}
	}
	return -1, -1
}

func isTagNameByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func isTagSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n'
}

// findTop returns the first index in s where match fires at top level,
// outside nested templates, arguments, wiki links, comments and parsed
// tags. Returns -1 when match never fires.
func findTop(s string, match func(rest string) bool) int {
	braces, brackets := 0, 0
	i := 0
	for i < len(s) {
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, "<!--"):
			if end := strings.Index(rest[4:], "-->"); end >= 0 {
				i += 4 + end + 3
				continue
			}
		case strings.HasPrefix(rest, "{{{"):
			if end := argEnd(rest); end >= 0 {
				i += end
				continue
			}
		case strings.HasPrefix(rest, "{{"):
			braces++
			i += 2
			continue
		case strings.HasPrefix(rest, "}}") && braces > 0:
			braces--
			i += 2
			continue
		case strings.HasPrefix(rest, "[["):
			brackets++
			i += 2
			continue
		case strings.HasPrefix(rest, "]]") && brackets > 0:
			brackets--
			i += 2
			continue
		case rest[0] == '<':
			if _, size, ok := tagAt(rest); ok {
				i += size
				continue
			}
		}
		if braces == 0 && brackets == 0 && match(rest) {
			return i
		}
		i++
	}
	return -1
}

// splitTop splits s on sep at top level, dropping the separators.
func splitTop(s string, sep byte) []string {
	var parts []string
	start := 0
	for {
		i := findTop(s[start:], func(rest string) bool { return rest[0] == sep })
		if i < 0 {
			break
		}
		parts = append(parts, s[start:start+i])
		start += i + 1
	}
	return append(parts, s[start:])
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return s
	}
	u := unicode.ToUpper(r)
	if u == r {
		return s
	}
	return string(u) + s[size:]
}
