package provider

import (
	"net/url"
	"strings"
)

// Key builds the cache key of a request:
//
//	<category>_<provider>_<endpoint>?<sorted query>
//
// Query parameters are sorted by name. keyParam, the parameter carrying
// the API key, never takes part, so keys stay stable across key changes
// and secrets do not leak into logs or Redis.
func Key(c Category, provider, endpoint string, query url.Values, keyParam string) string {
	var b strings.Builder
	b.WriteString(c.Prefix())
	b.WriteString(provider)
	b.WriteByte('_')
	b.WriteString(strings.TrimLeft(endpoint, "/"))

	q := make(url.Values, len(query))
	for k, vs := range query {
		if keyParam != "" && k == keyParam {
			continue
		}
		q[k] = vs
	}
	if enc := q.Encode(); enc != "" {
		b.WriteByte('?')
		b.WriteString(enc)
	}
	return b.String()
}
