// Package scan provides the pattern matching and HTML text traversal
// primitives used by the link processor.
package scan

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// keyPrefixRe is the invariant for issue key prefixes: a leading letter
// followed by letters, digits, underscore or hyphen.
var keyPrefixRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ValidKeyPrefix reports whether prefix satisfies the key prefix invariant
func ValidKeyPrefix(prefix string) bool {
	return keyPrefixRe.MatchString(prefix)
}

// GeneratePattern compiles the issue key pattern for prefix. The prefix is
// inserted literally, so callers must have validated it with ValidKeyPrefix
// first; a prefix containing regexp metacharacters is a caller bug and
// surfaces as a compile error here.
func GeneratePattern(prefix string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`\b` + prefix + `-\d+\b`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile key pattern", goerr.V("prefix", prefix))
	}
	return re, nil
}

// ValidateURL reports whether u parses as a URL with the https scheme.
// Any other scheme, including http, is rejected.
func ValidateURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Scheme == "https" && parsed.Host != ""
}

// GenerateURL joins an issue key onto a tracker base URL. The join is flat:
// no tracker specific path segments such as /browse/ are assumed.
func GenerateURL(key, baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + url.PathEscape(key)
}

// Match is one non-overlapping pattern occurrence within a text node
type Match struct {
	Text  string
	Start int
	End   int
}

// FindMatches runs re over text with a manually tracked cursor. Matches never
// overlap, and a zero-width match forces a one-position advance so the loop
// cannot spin on an empty match.
func FindMatches(re *regexp.Regexp, text string) []Match {
	var matches []Match
	pos := 0
	for pos < len(text) {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if end > start {
			matches = append(matches, Match{Text: text[start:end], Start: start, End: end})
			pos = end
		} else {
			pos = start + 1
		}
	}
	return matches
}
