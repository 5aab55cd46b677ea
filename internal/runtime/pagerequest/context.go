// Package pagerequest turns an inbound weblog page request into an immutable
// description of what is being asked for.
package pagerequest

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Kind is the closed set of page resource kinds.
type Kind string

const (
	KindDefault   Kind = "DEFAULT"
	KindNamedPage Kind = "NAMED_PAGE"
	KindPermalink Kind = "PERMALINK"
	KindCategory  Kind = "CATEGORY"
	KindTagsIndex Kind = "TAGS_INDEX"
	KindPopup     Kind = "POPUP"
)

// Countable reports whether requests of this kind count as page views.
func (k Kind) Countable() bool {
	switch k {
	case KindDefault, KindNamedPage, KindPermalink, KindCategory, KindTagsIndex:
		return true
	default:
		return false
	}
}

// Device classifies the requesting client for template variants.
type Device string

const (
	DeviceStandard Device = "standard"
	DeviceMobile   Device = "mobile"
)

// ErrInvalidRequest marks a path or query that does not describe a page.
var ErrInvalidRequest = errors.New("pagerequest: invalid request")

var (
	localePattern = regexp.MustCompile(`^[a-z]{2}([_-][A-Za-z]{2})?$`)
	datePattern   = regexp.MustCompile(`^[0-9]{6}([0-9]{2})?$`)
	mobilePattern = regexp.MustCompile(`(?i)(iphone|ipod|android.+mobile|blackberry|windows phone|opera mini|iemobile|mobile safari)`)
)

// Context is the parsed request. Values are never mutated after Parse returns;
// slice and map fields are private copies.
type Context struct {
	Weblog   string
	Kind     Kind
	Anchor   string
	Category string
	// Tags holds the requested tags lowercased and de-duplicated, in request order.
	Tags     []string
	Locale   string
	PageName string
	PageNum  int
	Date     string
	Device   Device
	LoggedIn bool
	User     string
	// SkipCache is set by the skipCache query parameter and bypasses cache reads only.
	SkipCache bool
	PathInfo  string
	Query     url.Values
}

// Identity carries the session facts the parser folds into the context.
type Identity struct {
	LoggedIn bool
	User     string
}

// Parse builds a Context for the weblog handle from the path info that
// follows the handle segment and the request query.
func Parse(handle, pathInfo string, query url.Values, userAgent string, id Identity) (Context, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return Context{}, fmt.Errorf("%w: weblog handle missing", ErrInvalidRequest)
	}
	ctx := Context{
		Weblog:   handle,
		Kind:     KindDefault,
		Device:   classifyDevice(userAgent),
		LoggedIn: id.LoggedIn,
		PathInfo: pathInfo,
		Query:    cloneValues(query),
	}
	if id.LoggedIn {
		ctx.User = id.User
	}

	segments := splitPath(pathInfo)
	if len(segments) > 0 && localePattern.MatchString(segments[0]) {
		ctx.Locale = segments[0]
		segments = segments[1:]
	}
	if len(segments) > 0 {
		if len(segments) != 2 {
			return Context{}, fmt.Errorf("%w: unexpected path %q", ErrInvalidRequest, pathInfo)
		}
		value, err := url.PathUnescape(segments[1])
		if err != nil || strings.TrimSpace(value) == "" {
			return Context{}, fmt.Errorf("%w: malformed segment %q", ErrInvalidRequest, segments[1])
		}
		switch segments[0] {
		case "page":
			ctx.Kind = KindNamedPage
			ctx.PageName = value
		case "entry":
			ctx.Kind = KindPermalink
			ctx.Anchor = value
		case "category":
			ctx.Kind = KindCategory
			ctx.Category = value
		case "tags":
			ctx.Kind = KindTagsIndex
			ctx.Tags = parseTags(value)
			if len(ctx.Tags) == 0 {
				return Context{}, fmt.Errorf("%w: empty tag list", ErrInvalidRequest)
			}
		default:
			return Context{}, fmt.Errorf("%w: unknown resource %q", ErrInvalidRequest, segments[0])
		}
	}

	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Context{}, fmt.Errorf("%w: page number %q", ErrInvalidRequest, raw)
		}
		ctx.PageNum = n
	}
	if raw := strings.TrimSpace(query.Get("date")); raw != "" {
		if !datePattern.MatchString(raw) {
			return Context{}, fmt.Errorf("%w: date %q", ErrInvalidRequest, raw)
		}
		ctx.Date = raw
	}
	ctx.SkipCache = truthy(query.Get("skipCache"))
	// The popup view of a page keeps the anchor so comments attach to the entry.
	if query.Has("popup") {
		ctx.Kind = KindPopup
	}
	return ctx, nil
}

// IsPopup reports whether the popup variant was requested.
func (c Context) IsPopup() bool { return c.Kind == KindPopup }

// SortedTags returns a sorted copy of the tag set.
func (c Context) SortedTags() []string {
	out := slices.Clone(c.Tags)
	slices.Sort(out)
	return out
}

func splitPath(pathInfo string) []string {
	trimmed := strings.Trim(pathInfo, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseTags(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '+' || r == ' ' })
	seen := make(map[string]struct{}, len(parts))
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

func classifyDevice(userAgent string) Device {
	if userAgent != "" && mobilePattern.MatchString(userAgent) {
		return DeviceMobile
	}
	return DeviceStandard
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func cloneValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}
