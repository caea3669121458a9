package nfc

import (
	"fmt"

	"github.com/wcam-wk/nfcbot/wiki"
)

// Violation is one detected policy violation: File is the non-free file,
// Page the page the violation applies to (the file itself for file
// criteria) and Criterion the policy criterion number.
type Violation struct {
	File      wiki.Title
	Page      wiki.Title
	Criterion string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s on %s: criterion %s", v.File, v.Page, v.Criterion)
}
