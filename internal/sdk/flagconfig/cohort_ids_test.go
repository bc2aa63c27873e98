package flagconfig

import (
	"testing"

	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

func TestIsCohortFilter(t *testing.T) {
	cases := []struct {
		name string
		cond rules.Condition
		want bool
	}{
		{"set contains any cohort_ids", rules.Condition{Op: rules.OpSetContainsAny, Selector: []string{"context", "user", "cohort_ids"}}, true},
		{"set does not contain any cohort_ids", rules.Condition{Op: rules.OpSetDoesNotContainAny, Selector: []string{"context", "user", "cohort_ids"}}, true},
		{"wrong operator", rules.Condition{Op: rules.OpSetContains, Selector: []string{"context", "user", "cohort_ids"}}, false},
		{"wrong selector tail", rules.Condition{Op: rules.OpSetContainsAny, Selector: []string{"context", "user", "country"}}, false},
		{"empty selector", rules.Condition{Op: rules.OpSetContainsAny, Selector: nil}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsCohortFilter(tc.cond); got != tc.want {
				t.Errorf("IsCohortFilter(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

func TestGroupedCohortConditionIDs(t *testing.T) {
	flag := rules.Flag{
		Key: "f1",
		Segments: []rules.Segment{
			{
				Conditions: [][]rules.Condition{
					{
						{Op: rules.OpSetContainsAny, Selector: []string{"context", "user", "cohort_ids"}, Values: []string{"c1", "c2"}},
					},
					{
						{Op: rules.OpSetContainsAny, Selector: []string{"context", "groups", "org", "cohort_ids"}, Values: []string{"c3"}},
					},
				},
			},
		},
	}

	grouped := GroupedCohortConditionIDs(flag)
	if _, ok := grouped[rules.UserGroupType]["c1"]; !ok {
		t.Errorf("expected c1 under User group type")
	}
	if _, ok := grouped[rules.UserGroupType]["c2"]; !ok {
		t.Errorf("expected c2 under User group type")
	}
	if _, ok := grouped["org"]["c3"]; !ok {
		t.Errorf("expected c3 under org group type")
	}

	all := AllCohortIDs(flag)
	for _, id := range []string{"c1", "c2", "c3"} {
		if _, ok := all[id]; !ok {
			t.Errorf("expected %s in AllCohortIDs", id)
		}
	}
}

func TestGroupedCohortIDsAcrossFlags(t *testing.T) {
	flags := map[string]rules.Flag{
		"f1": {
			Key: "f1",
			Segments: []rules.Segment{{
				Conditions: [][]rules.Condition{{
					{Op: rules.OpSetContainsAny, Selector: []string{"context", "user", "cohort_ids"}, Values: []string{"c1"}},
				}},
			}},
		},
		"f2": {
			Key: "f2",
			Segments: []rules.Segment{{
				Conditions: [][]rules.Condition{{
					{Op: rules.OpSetContainsAny, Selector: []string{"context", "user", "cohort_ids"}, Values: []string{"c2"}},
				}},
			}},
		},
	}

	all := AllCohortIDsFromFlags(flags)
	if len(all) != 2 {
		t.Fatalf("expected 2 total cohort ids, got %d", len(all))
	}
}
