package preprocess

import (
	"fmt"
	"regexp"
)

// DefaultBoilerplatePatterns match single sentences of cookie banners, newsletter
// prompts, social links and footers. Each pattern consumes up to the next period.
var DefaultBoilerplatePatterns = []string{
	`(?i)we use cookies[^.]*\.`,
	`(?i)cookie policy[^.]*\.`,
	`(?i)by (continuing|using) (this|our) (site|website)[^.]*\.`,
	`(?i)accept (all )?cookies[^.]*\.`,
	`(?i)privacy policy[^.]*\.`,
	`(?i)subscribe to our newsletter[^.]*\.`,
	`(?i)sign up for our[^.]*newsletter[^.]*\.`,
	`(?i)enter your email[^.]*\.`,
	`(?i)get (the latest|our) updates[^.]*\.`,
	`(?i)follow us on[^.]*\.`,
	`(?i)share (this|on)[^.]*\.`,
	`(?i)skip to (main )?content[^.]*\.`,
	`(?i)all rights reserved[^.]*\.`,
	`(?i)terms (of (use|service)|and conditions)[^.]*\.`,
	`(?i)copyright ©[^.]*\.`,
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid boilerplate pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func removeBoilerplate(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		text = re.ReplaceAllString(text, "")
	}
	return text
}
