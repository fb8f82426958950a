package extract

import (
	"fmt"
	"regexp"
)

// Pre-process rule names accepted in task payloads.
const (
	RuleReplaceSpaceNTab  = "replace-space-n-tab"
	RuleDeleteURLAndEmail = "delete-url-and-email"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	urlPattern    = regexp.MustCompile(`https?://\S+`)
	emailPattern  = regexp.MustCompile(`[\w.+-]+@[\w-]+(\.[\w-]+)+`)
)

type rule func(string) string

// compileRules resolves rule names, preserving order.
func compileRules(names []string) ([]rule, error) {
	rules := make([]rule, 0, len(names))
	for _, name := range names {
		switch name {
		case RuleReplaceSpaceNTab:
			rules = append(rules, func(s string) string {
				return whitespaceRun.ReplaceAllString(s, "")
			})
		case RuleDeleteURLAndEmail:
			rules = append(rules, func(s string) string {
				s = urlPattern.ReplaceAllString(s, "")
				return emailPattern.ReplaceAllString(s, "")
			})
		default:
			return nil, fmt.Errorf("extract: unknown pre-process rule %q", name)
		}
	}
	return rules, nil
}

func applyRules(s string, rules []rule) string {
	for _, r := range rules {
		s = r(s)
	}
	return s
}
