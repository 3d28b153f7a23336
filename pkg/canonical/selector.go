// Package canonical picks the display name of a canonical entity or tag from
// the name variants observed for it.
//
// Selection is a pure function of the candidate set: every comparator chain
// ends in a byte-order comparison, so permuting the input never changes the
// chosen name.
package canonical

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

// Candidate is one observed name variant. UsageCount is a preference weight;
// zero is a valid weight (aliases are fed in with zero).
type Candidate struct {
	Name       string
	UsageCount int
}

// Names wraps plain strings as candidates with the given weight.
func Names(weight int, names ...string) []Candidate {
	out := make([]Candidate, 0, len(names))
	for _, n := range names {
		out = append(out, Candidate{Name: n, UsageCount: weight})
	}
	return out
}

var (
	personTitlePattern  = regexp.MustCompile(`(?i)^(dr|mr|mrs|ms|mx|prof|sir|dame|rev)\.?\s`)
	personSuffixPattern = regexp.MustCompile(`(?i)[\s,](phd|ph\.d\.?|md|m\.d\.?|jr|sr|ii|iii|iv|esq|mba)\.?$`)
	legalSuffixPattern  = regexp.MustCompile(`(?i)[\s,](inc|corp|corporation|llc|ltd|gmbh|co|company|plc|sa|ag|limited|incorporated)\.?$`)
)

// comparator returns a negative number when a is preferred over b.
type comparator func(a, b Candidate) int

// ForEntity returns the best display name among candidates for the given kind.
// Returns "" only when no candidate has a non-blank name.
func ForEntity(kind models.EntityKind, candidates []Candidate) string {
	switch kind {
	case models.EntityKindPerson:
		return pick(candidates, personChain)
	case models.EntityKindOrganization:
		return pick(candidates, organizationChain)
	default:
		return pick(candidates, genericChain)
	}
}

// ForTag returns the best tag name among candidates, normalized to lowercase
// hyphenated form.
func ForTag(candidates []Candidate) string {
	return models.NormalizeTagName(pick(candidates, tagChain))
}

func pick(candidates []Candidate, chain []comparator) string {
	cleaned := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return ""
	}

	best := cleaned[0]
	for _, c := range cleaned[1:] {
		if compareChain(chain, c, best) < 0 {
			best = c
		}
	}
	return best.Name
}

func compareChain(chain []comparator, a, b Candidate) int {
	for _, cmp := range chain {
		if r := cmp(a, b); r != 0 {
			return r
		}
	}
	return 0
}

var personChain = []comparator{
	preferTrue(func(c Candidate) bool { return hasPersonTitle(c.Name) }),
	longer,
	preferMore(func(c Candidate) int { return len(strings.Fields(c.Name)) }),
	higherUsage,
	preferTrue(func(c Candidate) bool { return isMixedCase(c.Name) }),
	alphabetical,
	byteOrder,
}

var organizationChain = []comparator{
	longer,
	preferTrue(func(c Candidate) bool { return legalSuffixPattern.MatchString(c.Name) }),
	preferTrue(func(c Candidate) bool { return !(utf8.RuneCountInString(c.Name) > 4 && isAllCaps(c.Name)) }),
	higherUsage,
	alphabetical,
	byteOrder,
}

var genericChain = []comparator{
	longer,
	higherUsage,
	alphabetical,
	byteOrder,
}

var tagChain = []comparator{
	preferMore(func(c Candidate) int { return utf8.RuneCountInString(models.NormalizeTagName(c.Name)) }),
	preferTrue(func(c Candidate) bool { return !strings.ContainsFunc(c.Name, unicode.IsDigit) }),
	preferTrue(func(c Candidate) bool { return strings.Contains(c.Name, "-") }),
	preferTrue(func(c Candidate) bool { return c.Name == strings.ToLower(c.Name) }),
	alphabetical,
	byteOrder,
}

func hasPersonTitle(name string) bool {
	return personTitlePattern.MatchString(name) || personSuffixPattern.MatchString(name)
}

func isAllCaps(s string) bool {
	return hasLetter(s) && s == strings.ToUpper(s)
}

func isMixedCase(s string) bool {
	return hasLetter(s) && s != strings.ToUpper(s) && s != strings.ToLower(s)
}

func hasLetter(s string) bool {
	return strings.ContainsFunc(s, unicode.IsLetter)
}

func preferTrue(pred func(Candidate) bool) comparator {
	return func(a, b Candidate) int {
		pa, pb := pred(a), pred(b)
		switch {
		case pa == pb:
			return 0
		case pa:
			return -1
		default:
			return 1
		}
	}
}

func preferMore(measure func(Candidate) int) comparator {
	return func(a, b Candidate) int {
		return measure(b) - measure(a)
	}
}

var longer = preferMore(func(c Candidate) int { return utf8.RuneCountInString(c.Name) })

func higherUsage(a, b Candidate) int {
	return b.UsageCount - a.UsageCount
}

func alphabetical(a, b Candidate) int {
	return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
}

func byteOrder(a, b Candidate) int {
	return strings.Compare(a.Name, b.Name)
}
