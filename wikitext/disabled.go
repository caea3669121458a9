package wikitext

import (
	"regexp"
	"strings"
)

// Exceptions are the disabled spans the bots never edit inside.
var Exceptions = []string{"comment", "nowiki", "pre", "syntaxhighlight"}

// disabledTags maps exception names to regexes for the spans they
// disable. The syntaxhighlight entry also covers its source alias.
var disabledTags = map[string]*regexp.Regexp{
	"comment":         regexp.MustCompile(`(?s)<!--.*?-->`),
	"nowiki":          tagRegexp("nowiki"),
	"pre":             tagRegexp("pre"),
	"syntaxhighlight": regexp.MustCompile(`(?is)<(?:syntaxhighlight|source)\b[^>]*>.*?</(?:syntaxhighlight|source)\s*>`),
}

func tagRegexp(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<` + name + `\b[^>]*>.*?</` + name + `\s*>`)
}

// StripDisabled removes the given disabled spans from text. With no tags
// given it removes Exceptions.
func StripDisabled(text string, tags ...string) string {
	if len(tags) == 0 {
		tags = Exceptions
	}
	for _, tag := range tags {
		if re, ok := disabledTags[tag]; ok {
			text = re.ReplaceAllString(text, "")
		}
	}
	return text
}

// ReplaceExcept replaces every match of old with new, skipping matches
// that overlap a disabled span. With no tags given the spans are
// Exceptions. The replacement is taken literally.
func ReplaceExcept(text string, old *regexp.Regexp, new string, tags ...string) string {
	if len(tags) == 0 {
		tags = Exceptions
	}
	var spans [][]int
	for _, tag := range tags {
		re, ok := disabledTags[tag]
		if !ok {
			continue
		}
		spans = append(spans, re.FindAllStringIndex(text, -1)...)
	}
	var b strings.Builder
	last := 0
	for _, m := range old.FindAllStringIndex(text, -1) {
		if overlaps(m, spans) {
			continue
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(new)
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func overlaps(m []int, spans [][]int) bool {
	for _, s := range spans {
		if m[0] < s[1] && s[0] < m[1] {
			return true
		}
	}
	return false
}

// FileLinkRegex matches embedded file links for the given namespace
// prefixes, pipe options and nested caption links included. The namespace
// and filename submatches carry the text exactly as written.
func FileLinkRegex(prefixes []string) *regexp.Regexp {
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = regexp.QuoteMeta(p)
	}
	pattern := `(?i)\[\[\s*(?P<namespace>` + strings.Join(quoted, "|") + `)` +
		`\s*:\s*(?P<filename>[^\n\[\]|]+?)\s*` +
		`(?:\|(?:[^\[\]]|\[\[[^\]]*\]\])*)?\]\]`
	return regexp.MustCompile(pattern)
}
