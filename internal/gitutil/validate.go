package gitutil

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ValidateCommittish rejects revision arguments git would read as an
// option or that can never name a commit.
func ValidateCommittish(rev string) error {
	if rev == "" {
		return errors.New("committish cannot be empty")
	}
	if strings.HasPrefix(rev, "-") {
		return fmt.Errorf("committish cannot start with '-': %s", rev)
	}
	for _, r := range rev {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("committish contains invalid character %q: %s", r, rev)
		}
	}
	return nil
}
