package cache

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/l0p7/pagectrl/internal/runtime/pagerequest"
)

// BuildKey derives the cache key for a parsed request. The result depends
// only on the namespace and the request fields that change rendered output.
//
// Layout: namespace:weblog/KIND[/anchor=][/page=][/category=][/tags=a+b]
// [/locale=][/date=][/pagenum=]/device=[/user=]
func BuildKey(namespace string, req pagerequest.Context) string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString(WeblogPrefix(namespace, req.Weblog))
	b.WriteString(string(req.Kind))
	writeSegment(&b, "anchor", req.Anchor)
	writeSegment(&b, "page", req.PageName)
	writeSegment(&b, "category", req.Category)
	if len(req.Tags) > 0 {
		tags := req.SortedTags()
		for i, tag := range tags {
			tags[i] = escapeSegment(tag)
		}
		b.WriteString("/tags=")
		b.WriteString(strings.Join(tags, "+"))
	}
	writeSegment(&b, "locale", req.Locale)
	writeSegment(&b, "date", req.Date)
	if req.PageNum > 0 {
		writeSegment(&b, "pagenum", strconv.Itoa(req.PageNum))
	}
	writeSegment(&b, "device", string(req.Device))
	if req.LoggedIn {
		writeSegment(&b, "user", req.User)
	}
	return b.String()
}

// WeblogPrefix is the key prefix shared by every entry of one weblog.
func WeblogPrefix(namespace, weblog string) string {
	return namespace + ":" + escapeSegment(weblog) + "/"
}

func writeSegment(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteByte('/')
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(escapeSegment(value))
}

func escapeSegment(v string) string {
	return strings.ReplaceAll(url.PathEscape(v), "+", "%2B")
}
