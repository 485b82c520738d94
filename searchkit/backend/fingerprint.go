package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// KeyPrefix namespaces every key written by searchkit into a cache.
const KeyPrefix = "searchkit:result:"

// Fingerprint derives the cache key for a query. Queries that differ only in
// surrounding whitespace, letter case or filter ordering share a key.
func Fingerprint(query string, opts Options) string {
	var b strings.Builder

	b.WriteString(strings.ToLower(strings.Join(strings.Fields(query), " ")))
	b.WriteString("|l=" + strconv.Itoa(opts.Limit))
	b.WriteString("|o=" + strconv.Itoa(opts.Offset))
	b.WriteString("|s=" + string(opts.SortBy) + ":" + string(opts.SortOrder))

	keys := make([]string, 0, len(opts.Filters))
	for k := range opts.Filters {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	for _, k := range keys {
		values := slices.Clone(opts.Filters[k])
		slices.Sort(values)
		b.WriteString(fmt.Sprintf("|f:%s=%s", k, strings.Join(values, ",")))
	}

	sum := sha256.Sum256([]byte(b.String()))

	return KeyPrefix + hex.EncodeToString(sum[:])
}

// EncodeResult serializes a result for storage in a cache.
func EncodeResult(result Result) ([]byte, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	return data, nil
}

// DecodeResult parses a result stored by EncodeResult.
func DecodeResult(data []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}

	if result.Items == nil {
		result.Items = []Item{}
	}

	return result, nil
}
