package gtest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// Split parses a filter expression into a list of positive and negative
// patterns, negative ones carrying a leading "-". GoogleTest's parser
// accepts multiple "-" separators and toggles between positive and
// negative at each one, which is replicated here. A leading negative
// pattern implies a positive "*".
func Split(expr string) []string {
	expr = whitespaceRE.ReplaceAllString(expr, "")
	expr = strings.TrimLeft(expr, ":")
	expr = strings.TrimRight(expr, ":-")

	var pats []string
	neg := false
	for len(expr) > 0 {
		if expr[0] == ':' || expr[0] == '-' {
			j := 1
			for j < len(expr) && (expr[j] == ':' || expr[j] == '-') {
				j++
			}
			if strings.Contains(expr[:j], "-") {
				neg = !neg
			}
			expr = expr[j:]
			continue
		}
		tok := expr
		if i := strings.IndexAny(expr, ":-"); i >= 0 {
			tok, expr = expr[:i], expr[i:]
		} else {
			expr = ""
		}
		if neg {
			if len(pats) == 0 {
				pats = append(pats, "*")
			}
			pats = append(pats, "-"+tok)
		} else {
			pats = append(pats, tok)
		}
	}
	return pats
}

// Join produces a filter expression from a pattern list: positive
// patterns joined with ":", then "-" and the negative patterns joined
// with ":".
func Join(pats []string) string {
	var pos, neg []string
	for _, p := range pats {
		if strings.HasPrefix(p, "-") {
			neg = append(neg, p[1:])
		} else {
			pos = append(pos, p)
		}
	}
	expr := strings.Join(pos, ":")
	if len(neg) > 0 {
		expr += "-" + strings.Join(neg, ":")
	}
	return expr
}

// Match reports whether name matches a pattern containing "*" and "?"
// wildcards. Matching is case sensitive, as in GoogleTest.
func Match(name, pat string) bool {
	ni, pi := 0, 0
	starP, starN := -1, 0
	for ni < len(name) {
		switch {
		case pi < len(pat) && (pat[pi] == '?' || pat[pi] == name[ni]):
			ni++
			pi++
		case pi < len(pat) && pat[pi] == '*':
			starP, starN = pi, ni
			pi++
		case starP >= 0:
			pi = starP + 1
			starN++
			ni = starN
		default:
			return false
		}
	}
	for pi < len(pat) && pat[pi] == '*' {
		pi++
	}
	return pi == len(pat)
}

// matchFold is Match ignoring case. GoogleTest itself matches case
// sensitively; this exists only for generating diagnostics.
func matchFold(name, pat string) bool {
	return Match(strings.ToLower(name), strings.ToLower(pat))
}

// Matches returns the subset of names matching at least one positive
// pattern and none of the negative patterns. Patterns apply in order, so
// a positive pattern can re-add a name removed by an earlier negative
// one. Input order of names is preserved.
func Matches(pats, names []string) []string {
	matched := make(map[string]bool)
	for _, pat := range pats {
		if neg, ok := strings.CutPrefix(pat, "-"); ok {
			for _, n := range names {
				if Match(n, neg) {
					delete(matched, n)
				}
			}
		} else {
			for _, n := range names {
				if Match(n, pat) {
					matched[n] = true
				}
			}
		}
	}
	out := make([]string, 0, len(matched))
	for _, n := range names {
		if matched[n] {
			out = append(out, n)
		}
	}
	return out
}

// IsDisabled reports whether a test is disabled by name per the
// GoogleTest convention.
func IsDisabled(name string) bool {
	return strings.HasPrefix(name, "DISABLED_") || strings.Contains(name, ".DISABLED_")
}

// Runnable returns the subset of names eligible for execution. Disabled
// tests are excluded unless runDisabled is set.
func Runnable(names []string, runDisabled bool) []string {
	if runDisabled {
		return names
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !IsDisabled(n) {
			out = append(out, n)
		}
	}
	return out
}

// Build returns a pattern list matching exactly the selected names when
// applied to all. Trailing wildcards and negative patterns shorten the
// expression where possible; at worst the result is the plain name list.
func Build(selected, all []string) []string {
	if len(selected) == 0 {
		return nil
	}
	sel := make(map[string]bool, len(selected))
	for _, n := range selected {
		sel[n] = true
	}
	var excluded []string
	for _, n := range all {
		if !sel[n] {
			excluded = append(excluded, n)
		}
	}
	names := make([]string, 0, len(sel))
	for n := range sel {
		names = append(names, n)
	}
	sort.Strings(names)
	sort.Strings(excluded)
	return subExpr(names, excluded, 0, true)
}

// subExpr recursively finds the shortest pattern list describing the
// sorted names subset: the plain name list, a common-prefix wildcard
// with negative patterns suppressing excluded names, or the same after
// splitting the names into groups with distinct prefixes.
func subExpr(names, excluded []string, minPrefixLen int, allowNeg bool) []string {
	result := names
	if len(names) <= 1 {
		return result
	}
	prefix := commonPrefix(names)
	if len(prefix) < minPrefixLen {
		return result
	}

	var unwanted, others []string
	for _, n := range excluded {
		if strings.HasPrefix(n, prefix) {
			unwanted = append(unwanted, n)
		} else {
			others = append(others, n)
		}
	}

	if allowNeg || len(unwanted) == 0 {
		pats := []string{minimizePrefix(others, prefix, minPrefixLen) + "*"}
		for _, pat := range subExpr(unwanted, names, minPrefixLen, false) {
			pats = append(pats, "-"+pat)
		}
		if shorter(pats, result) {
			result = pats
		}
	}

	if len(unwanted) > 0 {
		if subSets := splitAtPrefix(names, len(prefix)); len(subSets) > 0 {
			var pats []string
			for _, sub := range subSets {
				pats = append(pats, subExpr(sub, excluded, len(prefix)+1, allowNeg)...)
			}
			if shorter(pats, result) {
				result = pats
			}
		}
	}
	return result
}

func shorter(a, b []string) bool {
	la, lb := len(a), len(b)
	for _, p := range a {
		la += len(p)
	}
	for _, p := range b {
		lb += len(p)
	}
	return la < lb
}

// commonPrefix returns the longest common prefix of a sorted name list.
func commonPrefix(names []string) string {
	if len(names) == 0 {
		return ""
	}
	first, last := names[0], names[len(names)-1]
	n := len(first)
	if len(last) < n {
		n = len(last)
	}
	for i := 0; i < n; i++ {
		if first[i] != last[i] {
			n = i
			break
		}
	}
	return first[:n]
}

// minimizePrefix shortens prefix until it is still no prefix of any
// excluded name: the result is the shortest prefix distinguishing the
// wildcard from all exclusions, but at least minLen characters.
func minimizePrefix(excluded []string, prefix string, minLen int) string {
	if len(excluded) == 0 {
		return prefix[:minLen]
	}
	if len(prefix) <= 1 {
		return prefix
	}
	for l := len(prefix) - 1; l >= minLen; l-- {
		for _, n := range excluded {
			if strings.HasPrefix(n, prefix[:l]) {
				return prefix[:l+1]
			}
		}
	}
	return prefix[:minLen]
}

// splitAtPrefix groups sorted names by their character at index
// prefixLen. Names shorter than the prefix form single-name groups.
// Fewer than three names are not worth splitting.
func splitAtPrefix(names []string, prefixLen int) [][]string {
	if len(names) <= 2 {
		return nil
	}
	var result [][]string
	var cur []string
	haveChar := false
	var curChar byte
	for _, name := range names {
		switch {
		case prefixLen >= len(name):
			result = append(result, []string{name})
		case !haveChar || curChar != name[prefixLen]:
			if len(cur) > 0 {
				result = append(result, cur)
			}
			curChar = name[prefixLen]
			haveChar = true
			cur = []string{name}
		default:
			cur = append(cur, name)
		}
	}
	if len(cur) > 0 {
		result = append(result, cur)
	}
	return result
}

// Check inspects a filter expression for patterns matching no test case
// and returns a warning for the first one found, together with the
// offending pattern so the caller can suppress repeated warnings.
// Patterns present in suppressed are skipped.
func Check(expr string, allNames []string, runDisabled bool, suppressed map[string]bool) (warning, pattern string) {
	names := Runnable(allNames, runDisabled)
	if len(names) == 0 {
		return "", ""
	}
	for _, pat := range Split(expr) {
		e := strings.TrimPrefix(pat, "-")
		if anyMatch(names, e) {
			continue
		}
		if suppressed[e] {
			return "", ""
		}
		switch {
		case !runDisabled && anyMatch(allNames, e):
			return fmt.Sprintf("filter pattern %q only matches disabled tests; enable the run-disabled option to run these", e), e
		case anyContains(allNames, e):
			return fmt.Sprintf("filter pattern %q does not match any test case name; use wildcard \"*\" to match names containing this text", e), e
		case anyMatchFold(allNames, e):
			return fmt.Sprintf("filter pattern %q does not match any test case name; patterns are case sensitive", e), e
		default:
			return fmt.Sprintf("filter pattern %q does not match any test case name", e), e
		}
	}
	return "", ""
}

func anyMatch(names []string, pat string) bool {
	for _, n := range names {
		if Match(n, pat) {
			return true
		}
	}
	return false
}

func anyMatchFold(names []string, pat string) bool {
	for _, n := range names {
		if matchFold(n, pat) {
			return true
		}
	}
	return false
}

func anyContains(names []string, sub string) bool {
	for _, n := range names {
		if strings.Contains(n, sub) {
			return true
		}
	}
	return false
}
