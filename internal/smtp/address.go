package smtp

import (
	"fmt"
	"strings"
)

// parsePath extracts the address from a MAIL/RCPT argument such as
// "FROM:<alice@example.com> SIZE=1024". The keyword comparison is
// case-insensitive and the angle-bracketed path may be empty (null reverse
// path). Trailing ESMTP parameters are ignored.
func parsePath(args, keyword string) (string, error) {
	rest, ok := cutPrefixFold(args, keyword+":")
	if !ok {
		return "", fmt.Errorf("expected %s:<address>", keyword)
	}
	rest = strings.TrimSpace(rest)

	if !strings.HasPrefix(rest, "<") {
		return "", fmt.Errorf("expected %s:<address>", keyword)
	}
	end := strings.IndexByte(rest, '>')
	if end < 0 {
		return "", fmt.Errorf("unterminated address")
	}
	return strings.TrimSpace(rest[1:end]), nil
}

// cutPrefixFold is strings.CutPrefix with ASCII case folding.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
