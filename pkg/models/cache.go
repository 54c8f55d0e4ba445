package models

import "time"

// CacheKey identifies one cached finding: the exact file content
// (by hash), the scope it was analyzed at, and an optional qualifier
// (class/function name) narrowing the target within that file.
type CacheKey struct {
	FileSHA256      string
	Scope           Scope
	TargetQualifier string
}

// CacheEntry is the value half of the content-addressed cache. A read
// is only a Hit when the caller's current FileSHA256 matches the key
// stored at write time; a changed file always misses.
type CacheEntry struct {
	Key            CacheKey
	FindingPayload string
	TokensUsed     int
	CreatedAt      time.Time
	LastAccess     time.Time
	AccessCount    int
}
