// Package nfc implements the non-free content policy checks: classifying
// files as non-free, detecting violations of the usage criteria, and the
// title resolution the repair bots use.
package nfc

// Pages and categories the policy hangs off.
const (
	// NonFreeFileCategory marks every non-free file description page.
	NonFreeFileCategory = "Category:All non-free media"
	// NfurTemplateCategory collects the non-free use rationale templates.
	NfurTemplateCategory = "Category:Non-free use rationale templates"
	// FileTemplateCategory collects templates used on file description
	// pages regardless of rationale.
	FileTemplateCategory = "Category:File namespace templates"
)

// Criteria of the non-free content policy the bots enforce.
const (
	CriterionOrphaned        = "7"
	CriterionOversize        = "3b"
	CriterionOutsideArticles = "9"
	CriterionNoRationale     = "10c"
)

// ReduceTemplates request a size reduction; NoReduceTemplates mark
// reduction as unwanted. Redirects to these resolve through HasTemplate,
// so aliases need no listing here.
var (
	ReduceTemplates   = []string{"Non-free reduce"}
	NoReduceTemplates = []string{"Non-free no reduce"}
)

// MaxMegapixels is the resolution bound of criterion 3b: the policy's 0.1
// megapixels plus a 5% margin.
const MaxMegapixels = 0.1 * 1.05
