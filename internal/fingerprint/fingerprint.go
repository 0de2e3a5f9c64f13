// Package fingerprint computes the content-addressed IDs and scoped cache
// and lock keys the engine uses to make writes idempotent and to serialize
// concurrent mutations on the same memory.
package fingerprint

import (
	"encoding/hex"
	"hash/fnv"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/openclaw/memcore/internal/models"
)

// separator is the 0x1F unit-separator byte joining canonical scope and
// normalized content before hashing, per the fingerprint formula.
const separator = 0x1F

// Normalize trims and NFKC-lowercases content for hashing. The record
// stores the content verbatim; only the fingerprint input is normalized.
func Normalize(content string) string {
	trimmed := strings.TrimSpace(content)
	folded := norm.NFKC.String(trimmed)
	return strings.ToLower(folded)
}

// ID computes the stable content-addressed memory ID: a 128-bit hash (two
// independent 64-bit FNV-1a hashes over disjoint salts) of the canonical
// scope joined with the normalized content. Two writes with identical
// scope and content always yield the same ID.
func ID(scope models.Scope, content string) string {
	payload := scope.Canonical() + string(rune(separator)) + Normalize(content)

	h1 := fnv.New64a()
	_, _ = h1.Write([]byte("memcore-id-lo\x00"))
	_, _ = h1.Write([]byte(payload))

	h2 := fnv.New64a()
	_, _ = h2.Write([]byte("memcore-id-hi\x00"))
	_, _ = h2.Write([]byte(payload))

	var buf [16]byte
	copy(buf[0:8], u64be(h1.Sum64()))
	copy(buf[8:16], u64be(h2.Sum64()))
	return hex.EncodeToString(buf[:])
}

func u64be(v uint64) []byte {
	return []byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}

// ScopeHash is the short, stable hash of a scope used as the cache/lock key
// prefix.
func ScopeHash(scope models.Scope) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scope.Canonical()))
	return hex.EncodeToString(u64be(h.Sum64()))
}

// hashString hashes an arbitrary string to a short hex digest, used for
// query-filter and id-set cache/lock key components.
func hashString(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return hex.EncodeToString(u64be(h.Sum64()))
}

// SearchCacheKey builds the scoped cache key for a Search result, per
// §4.2: mem:v1:{scope_hash}:search:{H(query_filter)}.
func SearchCacheKey(scope models.Scope, queryFilter string) string {
	return "mem:v1:" + ScopeHash(scope) + ":search:" + hashString(queryFilter)
}

// ContextCacheKey builds the scoped cache key for a GetContext result.
func ContextCacheKey(scope models.Scope, query string) string {
	return "mem:v1:" + ScopeHash(scope) + ":context:" + hashString(query)
}

// IDCacheKey builds the scoped cache key for a single record lookup.
func IDCacheKey(scope models.Scope, id string) string {
	return "mem:v1:" + ScopeHash(scope) + ":id:" + id
}

// CachePrefix is the scope-wide cache prefix invalidated on every write in
// that scope.
func CachePrefix(scope models.Scope) string {
	return "mem:v1:" + ScopeHash(scope) + ":"
}

// WriteLockKey builds the per-record write lock key: lock:mem:{scope}:{id}.
func WriteLockKey(scope models.Scope, id string) string {
	return "lock:mem:" + ScopeHash(scope) + ":" + id
}

// ResolveLockKey builds the conflict-resolution lock key, keyed by a
// deterministic hash of the sorted ID set: lock:resolve:{scope}:{H(id_set)}.
func ResolveLockKey(scope models.Scope, ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return "lock:resolve:" + ScopeHash(scope) + ":" + hashString(strings.Join(sorted, ","))
}
