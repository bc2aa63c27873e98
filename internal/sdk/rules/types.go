// Package rules defines the flag/segment/condition/bucket data model the
// evaluation engine operates on, generalized from the teacher's flat
// single-rule rollout model to the spec's ordered-segment,
// allocation/distribution bucketing model.
package rules

// Operator is one of the evaluation engine's closed set of condition
// operators. Unknown operators never match.
type Operator string

const (
	OpIs                     Operator = "is"
	OpIsNot                  Operator = "is not"
	OpContains               Operator = "contains"
	OpDoesNotContain         Operator = "does not contain"
	OpLess                   Operator = "less"
	OpLessOrEqual            Operator = "less or equal"
	OpGreater                Operator = "greater"
	OpGreaterOrEqual         Operator = "greater or equal"
	OpVersionLess            Operator = "version less"
	OpVersionLessOrEqual     Operator = "version less or equal"
	OpVersionGreater         Operator = "version greater"
	OpVersionGreaterOrEqual  Operator = "version greater or equal"
	OpSetIs                  Operator = "set is"
	OpSetIsNot               Operator = "set is not"
	OpSetContains            Operator = "set contains"
	OpSetDoesNotContain      Operator = "set does not contain"
	OpSetContainsAny         Operator = "set contains any"
	OpSetDoesNotContainAny   Operator = "set does not contain any"
	OpRegexMatch             Operator = "regex match"
	OpRegexDoesNotMatch      Operator = "regex does not match"
)

// NullSentinel is the literal filter value that matches a nil/missing
// property under operators in the "is" family.
const NullSentinel = "(none)"

// CohortIDsSelectorKey is the selector path's last segment used to mark a
// condition as targeting cohort membership (as opposed to an arbitrary
// context property).
const CohortIDsSelectorKey = "cohort_ids"

// UserGroupType is the implicit group type for per-user cohorts (as
// opposed to per-account/per-org group cohorts).
const UserGroupType = "User"

// Variant is a named treatment a flag can resolve to.
type Variant struct {
	Key      string
	Value    any
	Payload  any
	Metadata map[string]any
}

// Distribution assigns a variant to a sub-range of the 0-42949672
// distribution space (the bucketed hash divided by 100).
type Distribution struct {
	Variant string
	Range   [2]int
}

// Allocation assigns a set of Distributions to a sub-range of the 0-99
// allocation space.
type Allocation struct {
	Range         [2]int
	Distributions []Distribution
}

// Condition is a single predicate over a context value reached by
// Selector, compared against Values via Op.
type Condition struct {
	Selector []string
	Op       Operator
	Values   []string
}

// Bucket describes how to deterministically assign a target to a variant
// via HashMix(Salt + "/" + bucketingValue).
type Bucket struct {
	Selector    []string
	Salt        string
	Allocations []Allocation
}

// Segment is an ordered targeting rule: if Conditions match (or are empty,
// which always matches), the target is bucketed; Bucket == nil means the
// segment is fully rolled out to Variant.
type Segment struct {
	Bucket     *Bucket
	Conditions [][]Condition
	Variant    string
	Metadata   map[string]any
}

// Flag is a complete flag configuration: an ordered list of segments
// evaluated until one produces a variant, plus optional dependencies that
// must be evaluated (and present in the context's result tree) first.
type Flag struct {
	Key          string
	Variants     map[string]Variant
	Segments     []Segment
	Dependencies []string
	Metadata     map[string]any
}
