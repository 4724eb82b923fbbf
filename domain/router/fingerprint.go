package router

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// normalizeQuery lowercases and collapses whitespace so trivially different
// spellings share a cache entry.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// fingerprint hashes (tenant, normalized query, opts) into the cache and
// dedup key.
func fingerprint(tenant, query string, opts QueryOpts) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%g", tenant, normalizeQuery(query), opts.PreferredLayer, opts.K, opts.Threshold)
	for _, p := range opts.Params {
		fmt.Fprintf(h, "\x00%v", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
