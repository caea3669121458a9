package wiki

import "strings"

// Well-known namespace numbers. Talk namespaces are odd, subject namespaces
// even; virtual namespaces are negative.
const (
	NsMedia     = -2
	NsSpecial   = -1
	NsMain      = 0
	NsTalk      = 1
	NsUser      = 2
	NsUserTalk  = 3
	NsProject   = 4
	NsFile      = 6
	NsFileTalk  = 7
	NsMediaWiki = 8
	NsTemplate  = 10
	NsHelp      = 12
	NsCategory  = 14
)

// Namespaces maps between namespace numbers and their textual prefixes,
// including aliases ("Image:" for "File:", "WP:" for "Wikipedia:", etc).
type Namespaces struct {
	names   map[int]string
	numbers map[string]int
}

// DefaultNamespaces returns the standard English Wikipedia namespace table.
func DefaultNamespaces() *Namespaces {
	ns := &Namespaces{
		names:   make(map[int]string),
		numbers: make(map[string]int),
	}
	canonical := map[int]string{
		NsMedia:         "Media",
		NsSpecial:       "Special",
		NsMain:          "",
		NsTalk:          "Talk",
		NsUser:          "User",
		NsUserTalk:      "User talk",
		NsProject:       "Wikipedia",
		NsProject + 1:   "Wikipedia talk",
		NsFile:          "File",
		NsFileTalk:      "File talk",
		NsMediaWiki:     "MediaWiki",
		NsMediaWiki + 1: "MediaWiki talk",
		NsTemplate:      "Template",
		NsTemplate + 1:  "Template talk",
		NsHelp:          "Help",
		NsHelp + 1:      "Help talk",
		NsCategory:      "Category",
		NsCategory + 1:  "Category talk",
	}
	for id, name := range canonical {
		ns.Register(id, name)
	}
	aliases := map[string]int{
		"Image":        NsFile,
		"Image talk":   NsFileTalk,
		"Project":      NsProject,
		"Project talk": NsProject + 1,
		"WP":           NsProject,
		"WT":           NsProject + 1,
	}
	for name, id := range aliases {
		ns.RegisterAlias(id, name)
	}
	return ns
}

// Register adds a canonical namespace name. The canonical name is used when
// serializing titles; it also works as a lookup prefix.
func (ns *Namespaces) Register(id int, name string) {
	ns.names[id] = name
	if name != "" {
		ns.numbers[normalizePrefix(name)] = id
	}
}

// RegisterAlias adds an extra lookup prefix for an existing namespace.
func (ns *Namespaces) RegisterAlias(id int, name string) {
	ns.numbers[normalizePrefix(name)] = id
}

// Lookup resolves a textual prefix to a namespace number.
func (ns *Namespaces) Lookup(prefix string) (int, bool) {
	id, ok := ns.numbers[normalizePrefix(prefix)]
	return id, ok
}

// Name returns the canonical name for a namespace number. Unknown namespaces
// return the empty string, same as the main namespace.
func (ns *Namespaces) Name(id int) string {
	return ns.names[id]
}

// FileAliases returns every prefix which resolves to the File namespace,
// canonical name first. Feeds the embedded-file link regex.
func (ns *Namespaces) FileAliases() []string {
	out := []string{ns.Name(NsFile)}
	for prefix, id := range ns.numbers {
		if id != NsFile || strings.EqualFold(prefix, ns.Name(NsFile)) {
			continue
		}
		// stored prefixes are normalized to lower case; present them
		// capitalized, the way they appear in wikitext
		out = append(out, upperFirst(prefix))
	}
	return out
}

// IsTalk reports whether the namespace is a talk namespace.
func (ns *Namespaces) IsTalk(id int) bool {
	return id > 0 && id%2 == 1
}

func normalizePrefix(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}
