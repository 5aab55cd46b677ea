// Package referrer classifies the Referer of page requests before any other
// work is done and turns spam away with 403.
package referrer

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/l0p7/pagectrl/internal/content"
	"github.com/l0p7/pagectrl/internal/metrics"
	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
	"github.com/l0p7/pagectrl/internal/spam"
)

// WeblogLookup loads the weblog whose own blocklist extends the site list.
type WeblogLookup interface {
	Weblog(ctx context.Context, handle string) (content.Weblog, error)
}

// Config wires the classifier.
type Config struct {
	Enabled         bool
	FrontPageHandle string
	// RobotPattern must match the whole User-Agent for a request to be treated
	// as a robot.
	RobotPattern  string
	EditorMarkers []string
	Checker       *spam.Checker
	Weblogs       WeblogLookup
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// Agent applies the referrer rules in order; the first that decides wins.
type Agent struct {
	enabled   bool
	frontPage string
	robot     *regexp.Regexp
	markers   []string
	checker   *spam.Checker
	weblogs   WeblogLookup
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// New constructs the classifier. An invalid robot pattern disables robot
// detection and is logged.
func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		enabled:   cfg.Enabled,
		frontPage: strings.TrimSpace(cfg.FrontPageHandle),
		checker:   cfg.Checker,
		weblogs:   cfg.Weblogs,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
	if pattern := strings.TrimSpace(cfg.RobotPattern); pattern != "" {
		robot, err := regexp.Compile(`^(?:` + pattern + `)$`)
		if err != nil {
			logger.Error("robot pattern invalid; robots will not be filtered", slog.Any("error", err))
		} else {
			a.robot = robot
		}
	}
	for _, marker := range cfg.EditorMarkers {
		if marker = strings.TrimSpace(marker); marker != "" {
			a.markers = append(a.markers, marker)
		}
	}
	return a
}

// Name identifies the referrer agent for logging.
func (a *Agent) Name() string { return "referrer" }

// Execute classifies the request and finishes it with 403 on spam.
func (a *Agent) Execute(ctx context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	if !a.enabled {
		return pipeline.Result{Name: a.Name(), Status: "disabled"}
	}
	if state.Decided() {
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	}
	state.Referrer.Checked = true

	reason, ref := a.exempt(state)
	if reason != "" {
		state.Referrer.Reason = reason
		return pipeline.Result{Name: a.Name(), Status: "allowed", Details: reason}
	}

	var weblogWords []string
	if a.weblogs != nil {
		// A weblog that cannot be loaded is left to the request agent to 404.
		if weblog, err := a.weblogs.Weblog(ctx, state.Weblog); err == nil {
			weblogWords = weblog.BannedWordList()
		}
	}
	verdict, err := a.checker.Check(spam.Input{
		Weblog:      state.Weblog,
		WeblogWords: weblogWords,
		Referrer:    ref,
		RequestHost: state.Raw.Host,
		RequestPath: state.Raw.Path,
		UserAgent:   state.Raw.UserAgent,
	})
	if err != nil {
		a.logger.Warn("referrer check incomplete",
			slog.String("weblog", state.Weblog),
			slog.String("correlation_id", state.CorrelationID),
			slog.Any("error", err),
		)
	}
	if !verdict.Spam {
		state.Referrer.Reason = "clean"
		return pipeline.Result{Name: a.Name(), Status: "allowed", Details: "clean"}
	}

	state.Referrer.Spam = true
	state.Referrer.Reason = "banned"
	state.Referrer.Match = verdict.Match
	state.Finish(http.StatusForbidden, "")
	a.metrics.ObserveSpamReferrer(state.Weblog)
	return pipeline.Result{
		Name:    a.Name(),
		Status:  "spam",
		Details: "referrer matched blocklist",
		Meta:    map[string]any{"match": verdict.Match},
	}
}

// exempt returns a non-empty reason when one of the rules ahead of the
// blocklist settles the request as not spam. Otherwise it returns the parsed
// referrer.
func (a *Agent) exempt(state *pipeline.State) (string, *url.URL) {
	if a.frontPage != "" && state.Weblog == a.frontPage {
		return "front page", nil
	}
	if a.robot != nil && state.Raw.UserAgent != "" && a.robot.MatchString(state.Raw.UserAgent) {
		return "robot", nil
	}
	ref, ok := parseReferrer(state.Raw.Referer)
	if !ok {
		return "no referrer", nil
	}
	if hasSegment(ref.Path, state.Weblog) {
		return "self referral", nil
	}
	if a.editorReferral(state, state.Raw.Referer) {
		return "editor referral", nil
	}
	return "", ref
}

func (a *Agent) editorReferral(state *pipeline.State, referrer string) bool {
	if len(a.markers) == 0 {
		return false
	}
	site := requestSite(state)
	if !strings.HasPrefix(referrer, site) {
		return false
	}
	remainder := referrer[len(site):]
	for _, marker := range a.markers {
		if strings.Contains(remainder, marker) {
			return true
		}
	}
	return false
}

// requestSite is scheme, host and first path segment of the request URL.
func requestSite(state *pipeline.State) string {
	site := state.Raw.Scheme + "://" + state.Raw.Host
	trimmed := strings.TrimPrefix(state.Raw.Path, "/")
	if trimmed == "" {
		return site
	}
	first, _, _ := strings.Cut(trimmed, "/")
	return site + "/" + first
}

// parseReferrer accepts only well-formed absolute http(s) URLs with a host.
func parseReferrer(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t\r\n") {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, false
	}
	if u.Hostname() == "" || u.User != nil {
		return nil, false
	}
	return u, true
}

func hasSegment(path, handle string) bool {
	if handle == "" {
		return false
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == handle {
			return true
		}
	}
	return false
}
