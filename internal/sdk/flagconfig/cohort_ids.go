package flagconfig

import "github.com/TimurManjosov/goflagship/internal/sdk/rules"

// IsCohortFilter reports whether cond filters on cohort membership: its
// operator must be a cohort set-operator and its selector's last segment
// must be "cohort_ids". Ported from util.flag_config.is_cohort_filter.
func IsCohortFilter(cond rules.Condition) bool {
	if cond.Op != rules.OpSetContainsAny && cond.Op != rules.OpSetDoesNotContainAny {
		return false
	}
	if len(cond.Selector) == 0 {
		return false
	}
	return cond.Selector[len(cond.Selector)-1] == rules.CohortIDsSelectorKey
}

// groupTypeForSelector resolves the group type a cohort condition's selector
// refers to: "context.user.cohort_ids" style selectors resolve to the user
// group; "context.groups.<type>.cohort_ids" style selectors resolve to
// selector[2]. Any other shape is unrecognized and returns "", false.
func groupTypeForSelector(selector []string) (string, bool) {
	if len(selector) >= 2 && selector[1] == "user" {
		return rules.UserGroupType, true
	}
	for i, seg := range selector {
		if seg == "groups" && i+1 < len(selector) {
			return selector[i+1], true
		}
	}
	return "", false
}

// GroupedCohortConditionIDs maps each group type referenced by flag's
// cohort-filter conditions to the set of cohort ids its conditions name.
func GroupedCohortConditionIDs(flag rules.Flag) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, segment := range flag.Segments {
		for _, group := range segment.Conditions {
			for _, cond := range group {
				if !IsCohortFilter(cond) {
					continue
				}
				groupType, ok := groupTypeForSelector(cond.Selector)
				if !ok {
					continue
				}
				ids, ok := out[groupType]
				if !ok {
					ids = make(map[string]struct{})
					out[groupType] = ids
				}
				for _, id := range cond.Values {
					ids[id] = struct{}{}
				}
			}
		}
	}
	return out
}

// GroupedCohortIDs is GroupedCohortConditionIDs summed across every flag in
// flags, keyed by group type.
func GroupedCohortIDs(flags map[string]rules.Flag) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, flag := range flags {
		for groupType, ids := range GroupedCohortConditionIDs(flag) {
			dst, ok := out[groupType]
			if !ok {
				dst = make(map[string]struct{})
				out[groupType] = dst
			}
			for id := range ids {
				dst[id] = struct{}{}
			}
		}
	}
	return out
}

// AllCohortIDs flattens GroupedCohortConditionIDs across every group type for
// a single flag.
func AllCohortIDs(flag rules.Flag) map[string]struct{} {
	out := make(map[string]struct{})
	for _, ids := range GroupedCohortConditionIDs(flag) {
		for id := range ids {
			out[id] = struct{}{}
		}
	}
	return out
}

// AllCohortIDsFromFlags flattens GroupedCohortIDs across every group type for
// a whole flag set.
func AllCohortIDsFromFlags(flags map[string]rules.Flag) map[string]struct{} {
	out := make(map[string]struct{})
	for _, ids := range GroupedCohortIDs(flags) {
		for id := range ids {
			out[id] = struct{}{}
		}
	}
	return out
}
