// Package spam decides whether a referrer is on a banned list.
package spam

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/l0p7/pagectrl/internal/expr"
)

// Input carries one referrer check.
type Input struct {
	Weblog string
	// WeblogWords extends the site-wide list for this weblog only.
	WeblogWords []string
	Referrer    *url.URL
	RequestHost string
	RequestPath string
	UserAgent   string
}

// Verdict reports the outcome and, when spam, the rule that matched.
type Verdict struct {
	Spam  bool
	Match string
}

// Checker matches referrers against banned words, "(regex)" entries and CEL
// predicates. It is safe for concurrent use.
type Checker struct {
	words    []string
	patterns []*regexp.Regexp
	programs []expr.Program

	// compiled per-weblog regex entries, keyed by source
	weblogPatterns sync.Map
}

// NewChecker compiles the site-wide list. Invalid entries fail construction.
func NewChecker(bannedWords, expressions []string) (*Checker, error) {
	c := &Checker{}
	for _, entry := range bannedWords {
		word, pattern, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		switch {
		case pattern != nil:
			c.patterns = append(c.patterns, pattern)
		case word != "":
			c.words = append(c.words, word)
		}
	}
	if len(expressions) > 0 {
		env, err := expr.NewEnvironment()
		if err != nil {
			return nil, err
		}
		for _, source := range expressions {
			program, err := env.Compile(source)
			if err != nil {
				return nil, fmt.Errorf("spam: %w", err)
			}
			c.programs = append(c.programs, program)
		}
	}
	return c, nil
}

// Check classifies the referrer. Evaluation errors never make a referrer
// spam; they are returned alongside the verdict for logging.
func (c *Checker) Check(in Input) (Verdict, error) {
	if c == nil || in.Referrer == nil {
		return Verdict{}, nil
	}
	raw := strings.ToLower(in.Referrer.String())

	for _, word := range c.words {
		if strings.Contains(raw, word) {
			return Verdict{Spam: true, Match: word}, nil
		}
	}
	for _, pattern := range c.patterns {
		if pattern.MatchString(raw) {
			return Verdict{Spam: true, Match: pattern.String()}, nil
		}
	}

	var errs []error
	for _, entry := range in.WeblogWords {
		word, pattern, err := c.weblogEntry(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if pattern != nil && pattern.MatchString(raw) {
			return Verdict{Spam: true, Match: pattern.String()}, errors.Join(errs...)
		}
		if word != "" && strings.Contains(raw, word) {
			return Verdict{Spam: true, Match: word}, errors.Join(errs...)
		}
	}

	if len(c.programs) > 0 {
		activation := expr.Activation(in.Referrer, in.RequestHost, in.RequestPath, in.UserAgent, in.Weblog)
		for _, program := range c.programs {
			matched, err := program.EvalBool(activation)
			if err != nil {
				errs = append(errs, fmt.Errorf("spam: %w", err))
				continue
			}
			if matched {
				return Verdict{Spam: true, Match: program.Source()}, errors.Join(errs...)
			}
		}
	}
	return Verdict{}, errors.Join(errs...)
}

func (c *Checker) weblogEntry(entry string) (string, *regexp.Regexp, error) {
	trimmed := strings.TrimSpace(entry)
	if !isPatternEntry(trimmed) {
		return strings.ToLower(trimmed), nil, nil
	}
	if cached, ok := c.weblogPatterns.Load(trimmed); ok {
		return "", cached.(*regexp.Regexp), nil
	}
	_, pattern, err := parseEntry(trimmed)
	if err != nil {
		return "", nil, err
	}
	c.weblogPatterns.Store(trimmed, pattern)
	return "", pattern, nil
}

// parseEntry turns a list entry into a lowercase word or, for entries wrapped
// in parentheses, a case-insensitive regex.
func parseEntry(entry string) (string, *regexp.Regexp, error) {
	trimmed := strings.TrimSpace(entry)
	if !isPatternEntry(trimmed) {
		return strings.ToLower(trimmed), nil, nil
	}
	pattern, err := regexp.Compile("(?i)" + trimmed[1:len(trimmed)-1])
	if err != nil {
		return "", nil, fmt.Errorf("spam: invalid pattern %q: %w", trimmed, err)
	}
	return "", pattern, nil
}

func isPatternEntry(s string) bool {
	return len(s) > 2 && strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
}
