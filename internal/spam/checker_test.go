package spam

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestCheckerMatches(t *testing.T) {
	checker, err := NewChecker(
		[]string{"Casino", "  ", "(pill[sz]?)"},
		[]string{`referrer.host.endsWith(".ru") && weblog == "acme"`},
	)
	require.NoError(t, err)

	tests := []struct {
		name        string
		weblog      string
		weblogWords []string
		referrer    string
		wantSpam    bool
		wantMatch   string
	}{
		{name: "site word case insensitive", weblog: "acme", referrer: "http://example.com/CASINO-bonus", wantSpam: true, wantMatch: "casino"},
		{name: "site pattern", weblog: "acme", referrer: "https://cheap-PILLS.example.com/", wantSpam: true, wantMatch: "(?i)pill[sz]?"},
		{name: "weblog word", weblog: "beta", weblogWords: []string{"loans"}, referrer: "http://loans.example.com/", wantSpam: true, wantMatch: "loans"},
		{name: "weblog word only applies to its weblog", weblog: "acme", referrer: "http://loans.example.com/"},
		{name: "weblog pattern", weblog: "beta", weblogWords: []string{"(^https?://bad\\.)"}, referrer: "http://bad.example.com/x", wantSpam: true, wantMatch: "(?i)^https?://bad\\."},
		{name: "expression", weblog: "acme", referrer: "http://shop.example.ru/", wantSpam: true, wantMatch: `referrer.host.endsWith(".ru") && weblog == "acme"`},
		{name: "expression scoped to weblog", weblog: "beta", referrer: "http://shop.example.ru/"},
		{name: "clean", weblog: "acme", referrer: "https://news.example.com/story"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verdict, err := checker.Check(Input{
				Weblog:      tc.weblog,
				WeblogWords: tc.weblogWords,
				Referrer:    mustURL(t, tc.referrer),
			})
			require.NoError(t, err)
			require.Equal(t, tc.wantSpam, verdict.Spam)
			require.Equal(t, tc.wantMatch, verdict.Match)
		})
	}
}

func TestCheckerInvalidWeblogPatternFailsOpen(t *testing.T) {
	checker, err := NewChecker(nil, nil)
	require.NoError(t, err)
	verdict, err := checker.Check(Input{
		Weblog:      "acme",
		WeblogWords: []string{"(unclosed[)"},
		Referrer:    mustURL(t, "http://unclosed.example.com/"),
	})
	require.Error(t, err)
	require.False(t, verdict.Spam)
}

func TestNewCheckerRejectsInvalidEntries(t *testing.T) {
	_, err := NewChecker([]string{"(bad[)"}, nil)
	require.Error(t, err)

	_, err = NewChecker(nil, []string{`referrer.host +`})
	require.Error(t, err)
}

func TestCheckerWithoutReferrer(t *testing.T) {
	checker, err := NewChecker([]string{"casino"}, nil)
	require.NoError(t, err)
	verdict, err := checker.Check(Input{Weblog: "acme"})
	require.NoError(t, err)
	require.False(t, verdict.Spam)

	var nilChecker *Checker
	verdict, err = nilChecker.Check(Input{Referrer: mustURL(t, "http://casino.example.com")})
	require.NoError(t, err)
	require.False(t, verdict.Spam)
}
