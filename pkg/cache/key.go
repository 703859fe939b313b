package cache

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/Sternrassler/contentful-cache/pkg/delivery"
)

// Hash returns the hex encoded md5 sum of s. Key and tag formats are shared
// with other consumers of the store and must not change.
func Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// EntryKey returns the key of a parsed entry for a parser identity.
// Format: Parser_<md5(identity)>Entry_<entryID>
func EntryKey(parserIdentity, entryID string) string {
	return "Parser_" + Hash(parserIdentity) + "Entry_" + entryID
}

// IDListKey returns the key of the id list of a query. A non-empty cacheID
// is used as is.
// Format: <md5(queryString)>_Ids
func IDListKey(q *delivery.Query, cacheID string) string {
	if cacheID != "" {
		return cacheID
	}
	return Hash(q.QueryString()) + "_Ids"
}
