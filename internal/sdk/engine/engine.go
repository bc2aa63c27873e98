// Package engine implements the deterministic flag evaluation engine:
// segment matching, condition evaluation, and two-level hash bucketing into
// variants. The algorithm is grounded in the reference
// amplitude_experiment.evaluation engine and kept bit-for-bit faithful to
// its condition-matching and bucketing rules; the operator registry and
// regex-cache idiom are grounded in the teacher's
// internal/engine/operators.go.
package engine

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/TimurManjosov/goflagship/internal/sdk/hashmix"
	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
	"github.com/TimurManjosov/goflagship/internal/sdk/selector"
	"github.com/TimurManjosov/goflagship/internal/sdk/semver"
)

// Evaluate runs every flag in flags against context, returning the variant
// each flag resolved to. Flags that resolve to no variant (disabled,
// unmatched, or missing bucket) are omitted from the result. Flags should
// already be in dependency order (see TopoSort) so that a later flag's
// selectors can read an earlier flag's result.
func Evaluate(context map[string]any, flags []rules.Flag) map[string]rules.Variant {
	results := make(map[string]rules.Variant)
	target := map[string]any{
		"context": context,
		"result":  toResultTree(results),
	}

	for _, flag := range flags {
		if v := EvaluateFlag(target, flag); v != nil {
			results[flag.Key] = *v
			target["result"] = toResultTree(results)
		}
	}

	return results
}

// toResultTree converts the typed results map into the map[string]any tree
// Selector needs to walk (e.g. selector path ["result", "other-flag",
// "key"]).
func toResultTree(results map[string]rules.Variant) map[string]any {
	tree := make(map[string]any, len(results))
	for key, v := range results {
		tree[key] = map[string]any{
			"key":     v.Key,
			"value":   v.Value,
			"payload": v.Payload,
		}
	}
	return tree
}

// EvaluateFlag resolves a single flag against target (a {context, result}
// tree), returning nil if no segment matches or no variant exists for the
// matched bucket.
func EvaluateFlag(target map[string]any, flag rules.Flag) *rules.Variant {
	for _, segment := range flag.Segments {
		result := evaluateSegment(target, flag, segment)
		if result == nil {
			continue
		}

		metadata := map[string]any{}
		for k, v := range flag.Metadata {
			metadata[k] = v
		}
		for k, v := range segment.Metadata {
			metadata[k] = v
		}
		for k, v := range result.Metadata {
			metadata[k] = v
		}
		merged := *result
		merged.Metadata = metadata
		return &merged
	}
	return nil
}

func evaluateSegment(target map[string]any, flag rules.Flag, segment rules.Segment) *rules.Variant {
	if len(segment.Conditions) == 0 {
		variantKey := bucketTarget(target, segment)
		if variantKey == "" {
			return nil
		}
		if v, ok := flag.Variants[variantKey]; ok {
			return &v
		}
		return nil
	}

	if !evaluateConditions(target, segment.Conditions) {
		return nil
	}

	variantKey := bucketTarget(target, segment)
	if variantKey == "" {
		return nil
	}
	if v, ok := flag.Variants[variantKey]; ok {
		return &v
	}
	return nil
}

// evaluateConditions implements OR-of-ANDs: the outer list is disjunctive,
// each inner list is conjunctive.
func evaluateConditions(target map[string]any, conditions [][]rules.Condition) bool {
	for _, and := range conditions {
		match := true
		for _, cond := range and {
			if !matchCondition(target, cond) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func matchCondition(target map[string]any, cond rules.Condition) bool {
	propValue := selector.Select(target, cond.Selector)

	if isNullish(propValue) {
		return matchNull(cond.Op, cond.Values)
	}

	if isSetOperator(cond.Op) {
		list := coerceStringArray(propValue)
		if len(list) == 0 {
			return false
		}
		return matchSet(list, cond.Op, cond.Values)
	}

	s, ok := coerceString(propValue)
	if !ok {
		return false
	}
	return matchString(s, cond.Op, cond.Values)
}

func isNullish(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	return false
}

// bucketTarget selects a variant key by deterministically hashing the
// target, or returns segment.Variant as the fallback default.
func bucketTarget(target map[string]any, segment rules.Segment) string {
	if segment.Bucket == nil {
		return segment.Variant
	}

	bucketingValue, ok := coerceString(selector.Select(target, segment.Bucket.Selector))
	if !ok || bucketingValue == "" {
		return segment.Variant
	}

	keyToHash := segment.Bucket.Salt + "/" + bucketingValue
	hash := hashmix.Sum32(keyToHash)
	allocationValue := int(hash % 100)
	distributionValue := int(hash / 100)

	for _, allocation := range segment.Bucket.Allocations {
		if allocationValue < allocation.Range[0] || allocationValue >= allocation.Range[1] {
			continue
		}
		for _, dist := range allocation.Distributions {
			if distributionValue >= dist.Range[0] && distributionValue < dist.Range[1] {
				return dist.Variant
			}
		}
	}

	return segment.Variant
}

func matchNull(op rules.Operator, filterValues []string) bool {
	containsNone := containsNone(filterValues)
	switch op {
	case rules.OpIs, rules.OpContains, rules.OpLess, rules.OpLessOrEqual,
		rules.OpGreater, rules.OpGreaterOrEqual,
		rules.OpVersionLess, rules.OpVersionLessOrEqual,
		rules.OpVersionGreater, rules.OpVersionGreaterOrEqual,
		rules.OpSetIs, rules.OpSetContains, rules.OpSetContainsAny:
		return containsNone
	case rules.OpIsNot, rules.OpDoesNotContain,
		rules.OpSetDoesNotContain, rules.OpSetDoesNotContainAny:
		return !containsNone
	}
	return false
}

func matchSet(propValues []string, op rules.Operator, filterValues []string) bool {
	switch op {
	case rules.OpSetIs:
		return setEquals(propValues, filterValues)
	case rules.OpSetIsNot:
		return !setEquals(propValues, filterValues)
	case rules.OpSetContains:
		return setContainsAll(propValues, filterValues)
	case rules.OpSetDoesNotContain:
		return !setContainsAll(propValues, filterValues)
	case rules.OpSetContainsAny:
		return setContainsAny(propValues, filterValues)
	case rules.OpSetDoesNotContainAny:
		return !setContainsAny(propValues, filterValues)
	}
	return false
}

func matchString(propValue string, op rules.Operator, filterValues []string) bool {
	switch op {
	case rules.OpIs:
		return matchesIs(propValue, filterValues)
	case rules.OpIsNot:
		return !matchesIs(propValue, filterValues)
	case rules.OpContains:
		return matchesContains(propValue, filterValues)
	case rules.OpDoesNotContain:
		return !matchesContains(propValue, filterValues)
	case rules.OpLess, rules.OpLessOrEqual, rules.OpGreater, rules.OpGreaterOrEqual:
		return matchesComparable(propValue, op, filterValues, parseNumber, numericComparator)
	case rules.OpVersionLess, rules.OpVersionLessOrEqual, rules.OpVersionGreater, rules.OpVersionGreaterOrEqual:
		return matchesComparable(propValue, op, filterValues, parseVersion, versionComparator)
	case rules.OpRegexMatch:
		return matchesRegex(propValue, filterValues)
	case rules.OpRegexDoesNotMatch:
		return !matchesRegex(propValue, filterValues)
	}
	return false
}

func matchesIs(propValue string, filterValues []string) bool {
	if containsBooleans(filterValues) {
		lower := strings.ToLower(propValue)
		if lower == "true" || lower == "false" {
			for _, fv := range filterValues {
				if strings.ToLower(fv) == lower {
					return true
				}
			}
		}
	}
	for _, fv := range filterValues {
		if propValue == fv {
			return true
		}
	}
	return false
}

func matchesContains(propValue string, filterValues []string) bool {
	lower := strings.ToLower(propValue)
	for _, fv := range filterValues {
		if strings.Contains(lower, strings.ToLower(fv)) {
			return true
		}
	}
	return false
}

// matchesComparable transforms propValue and each filter value via
// transform, falling back to plain string comparison when the property
// value or every filter value fails to transform.
func matchesComparable[T any](propValue string, op rules.Operator, filterValues []string, transform func(string) (T, bool), compare func(T, rules.Operator, T) bool) bool {
	transformedProp, propOK := transform(propValue)

	var transformedFilters []T
	for _, fv := range filterValues {
		if t, ok := transform(fv); ok {
			transformedFilters = append(transformedFilters, t)
		}
	}

	if !propOK || len(transformedFilters) == 0 {
		for _, fv := range filterValues {
			if stringComparator(propValue, op, fv) {
				return true
			}
		}
		return false
	}

	for _, tf := range transformedFilters {
		if compare(transformedProp, op, tf) {
			return true
		}
	}
	return false
}

func stringComparator(propValue string, op rules.Operator, filterValue string) bool {
	switch op {
	case rules.OpLess, rules.OpVersionLess:
		return propValue < filterValue
	case rules.OpLessOrEqual, rules.OpVersionLessOrEqual:
		return propValue <= filterValue
	case rules.OpGreater, rules.OpVersionGreater:
		return propValue > filterValue
	case rules.OpGreaterOrEqual, rules.OpVersionGreaterOrEqual:
		return propValue >= filterValue
	}
	return false
}

func numericComparator(propValue float64, op rules.Operator, filterValue float64) bool {
	switch op {
	case rules.OpLess:
		return propValue < filterValue
	case rules.OpLessOrEqual:
		return propValue <= filterValue
	case rules.OpGreater:
		return propValue > filterValue
	case rules.OpGreaterOrEqual:
		return propValue >= filterValue
	}
	return false
}

func versionComparator(propValue semver.Version, op rules.Operator, filterValue semver.Version) bool {
	cmp := propValue.Compare(filterValue)
	switch op {
	case rules.OpVersionLess:
		return cmp < 0
	case rules.OpVersionLessOrEqual:
		return cmp <= 0
	case rules.OpVersionGreater:
		return cmp > 0
	case rules.OpVersionGreaterOrEqual:
		return cmp >= 0
	}
	return false
}

var regexCache sync.Map // string -> *regexp.Regexp

func matchesRegex(propValue string, filterValues []string) bool {
	for _, pattern := range filterValues {
		re, err := compileRegex(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(propValue) {
			return true
		}
	}
	return false
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

func containsNone(filterValues []string) bool {
	for _, fv := range filterValues {
		if fv == rules.NullSentinel {
			return true
		}
	}
	return false
}

func containsBooleans(filterValues []string) bool {
	for _, fv := range filterValues {
		lower := strings.ToLower(fv)
		if lower == "true" || lower == "false" {
			return true
		}
	}
	return false
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseVersion(s string) (semver.Version, bool) {
	return semver.Parse(s)
}

// coerceString mirrors coerce_string: maps/slices are JSON-encoded,
// everything else is stringified. Returns ok=false only for nil, which
// callers should have already filtered via isNullish.
func coerceString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return toStringScalar(t), true
	}
}

func toStringScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// coerceStringArray mirrors coerce_string_array: a native slice is mapped
// element-wise; anything else is stringified and, if that string
// round-trips through JSON into an array, the original elements are
// mapped, otherwise the whole string becomes a single-element list.
func coerceStringArray(v any) []string {
	if list, ok := v.([]any); ok {
		out := make([]string, 0, len(list))
		for _, el := range list {
			if s, ok := coerceString(el); ok {
				out = append(out, s)
			}
		}
		return out
	}

	s, ok := coerceString(v)
	if !ok {
		return nil
	}

	var parsed []any
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		out := make([]string, 0, len(parsed))
		for _, el := range parsed {
			if es, ok := coerceString(el); ok {
				out = append(out, es)
			}
		}
		return out
	}

	return []string{s}
}

func isSetOperator(op rules.Operator) bool {
	switch op {
	case rules.OpSetIs, rules.OpSetIsNot, rules.OpSetContains,
		rules.OpSetDoesNotContain, rules.OpSetContainsAny, rules.OpSetDoesNotContainAny:
		return true
	}
	return false
}

func setEquals(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
		seen[s] = struct{}{}
	}
	return len(seen) == len(set)
}

func setContainsAll(propValues, filterValues []string) bool {
	if len(propValues) < len(filterValues) {
		return false
	}
	for _, fv := range filterValues {
		if !matchesIs(fv, propValues) {
			return false
		}
	}
	return true
}

func setContainsAny(propValues, filterValues []string) bool {
	for _, fv := range filterValues {
		if matchesIs(fv, propValues) {
			return true
		}
	}
	return false
}

// sortedKeys is used by callers (cohort scanning, tests) that need stable
// iteration over a flag/variant map.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
