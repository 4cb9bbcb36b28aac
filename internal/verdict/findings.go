package verdict

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/samzong/qualgate/internal/stringsutil"
)

// NewFindings returns the lines of current that do not appear in previous,
// in the order they appear.
func NewFindings(previous, current string) []string {
	if strings.TrimSpace(current) == "" {
		return nil
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(previous, current)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var added []string
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffInsert {
			continue
		}
		added = append(added, stringsutil.Lines(d.Text)...)
	}
	return added
}
