// Package analytics builds and emits assignment/exposure tracking events
// from evaluation results, deduplicating repeats via a sliding-TTL cache.
// Grounded on amplitude_experiment.assignment.{assignment,assignment_filter,
// assignment_service} and .exposure.{exposure,exposure_filter,
// exposure_service}.
package analytics

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

const none = "None"

// hashCode ports util.hash_code.hash_code: an md5 hex digest used purely as
// a self-consistent idempotency key, not a value compared across SDKs, so
// bit-for-bit parity with the Python implementation is not required.
func hashCode(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func orNone(s string) string {
	if s == "" {
		return none
	}
	return s
}

// CanonicalizeAssignment builds Assignment.canonicalize()'s string: user and
// device id (or "None"), followed by every flag key in sorted order paired
// with its variant key (or "None" if the flag has no variant key).
func CanonicalizeAssignment(userID, deviceID string, results map[string]rules.Variant) string {
	out := fmt.Sprintf("%s %s ", orNone(userID), orNone(deviceID))
	for _, key := range sortedFlagKeys(results) {
		out += fmt.Sprintf("%s %s ", key, orNone(results[key].Key))
	}
	return out
}

// CanonicalizeExposure builds Exposure.canonicalize()'s string: identical to
// CanonicalizeAssignment except flags with no variant key are skipped
// entirely rather than emitting a "None" placeholder.
func CanonicalizeExposure(userID, deviceID string, results map[string]rules.Variant) string {
	out := fmt.Sprintf("%s %s ", orNone(userID), orNone(deviceID))
	for _, key := range sortedFlagKeys(results) {
		if results[key].Key == "" {
			continue
		}
		out += fmt.Sprintf("%s %s ", key, results[key].Key)
	}
	return out
}

func sortedFlagKeys(results map[string]rules.Variant) []string {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssignmentInsertID computes insert_id for a single combined assignment
// event covering every flag: one event per evaluation call, deduplicated
// per calendar day.
func AssignmentInsertID(userID, deviceID string, results map[string]rules.Variant, timestampMillis int64) string {
	canonical := CanonicalizeAssignment(userID, deviceID, results)
	day := timestampMillis / dayMillis
	return fmt.Sprintf("%s %s %s %s", orNone(userID), orNone(deviceID), hashCode(canonical), strconv.FormatInt(day, 10))
}

const dayMillis = 24 * 60 * 60 * 1000

// ExposureInsertID computes insert_id for a single flag's exposure event:
// one event per flag, deduplicated per ttlMillis window.
func ExposureInsertID(userID, deviceID, flagKey string, results map[string]rules.Variant, timestampMillis int64, ttlMillis int64) string {
	canonical := CanonicalizeExposure(userID, deviceID, results)
	window := timestampMillis / ttlMillis
	return fmt.Sprintf("%s %s %s %s", orNone(userID), orNone(deviceID), hashCode(flagKey+" "+canonical), strconv.FormatInt(window, 10))
}
