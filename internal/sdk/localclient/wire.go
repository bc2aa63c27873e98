package localclient

import (
	"encoding/json"
	"fmt"

	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

// wireFlag is the control plane's JSON representation of a flag config, as
// served by GET /sdk/v2/flags and pushed over the streaming connection.
// Field names follow the wire contract of flag.flag_config_api.FlagConfigApiV2.
type wireFlag struct {
	Key          string                    `json:"key"`
	Variants     map[string]wireVariant    `json:"variants"`
	Segments     []wireSegment             `json:"segments"`
	Dependencies []string                  `json:"dependencies"`
	Metadata     map[string]any            `json:"metadata"`
}

type wireVariant struct {
	Key      string         `json:"key"`
	Value    any            `json:"value"`
	Payload  any            `json:"payload"`
	Metadata map[string]any `json:"metadata"`
}

type wireCondition struct {
	Selector []string `json:"selector"`
	Op       string   `json:"op"`
	Values   []string `json:"values"`
}

type wireDistribution struct {
	Variant string `json:"variant"`
	Range   [2]int `json:"range"`
}

type wireAllocation struct {
	Range         [2]int             `json:"range"`
	Distributions []wireDistribution `json:"distributions"`
}

type wireBucket struct {
	Selector    []string         `json:"selector"`
	Salt        string           `json:"salt"`
	Allocations []wireAllocation `json:"allocations"`
}

type wireSegment struct {
	Bucket     *wireBucket       `json:"bucket"`
	Conditions [][]wireCondition `json:"conditions"`
	Variant    string            `json:"variant"`
	Metadata   map[string]any    `json:"metadata"`
}

// DecodeFlags parses a JSON array of wireFlag into the engine's rules.Flag
// model, keyed by flag key.
func DecodeFlags(data []byte) (map[string]rules.Flag, error) {
	var wire []wireFlag
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode flag configs: %w", err)
	}

	out := make(map[string]rules.Flag, len(wire))
	for _, wf := range wire {
		variants := make(map[string]rules.Variant, len(wf.Variants))
		for k, wv := range wf.Variants {
			variants[k] = rules.Variant{Key: wv.Key, Value: wv.Value, Payload: wv.Payload, Metadata: wv.Metadata}
		}

		segments := make([]rules.Segment, 0, len(wf.Segments))
		for _, ws := range wf.Segments {
			segments = append(segments, rules.Segment{
				Bucket:     decodeBucket(ws.Bucket),
				Conditions: decodeConditions(ws.Conditions),
				Variant:    ws.Variant,
				Metadata:   ws.Metadata,
			})
		}

		out[wf.Key] = rules.Flag{
			Key:          wf.Key,
			Variants:     variants,
			Segments:     segments,
			Dependencies: wf.Dependencies,
			Metadata:     wf.Metadata,
		}
	}
	return out, nil
}

func decodeBucket(wb *wireBucket) *rules.Bucket {
	if wb == nil {
		return nil
	}
	allocations := make([]rules.Allocation, 0, len(wb.Allocations))
	for _, wa := range wb.Allocations {
		distributions := make([]rules.Distribution, 0, len(wa.Distributions))
		for _, wd := range wa.Distributions {
			distributions = append(distributions, rules.Distribution{Variant: wd.Variant, Range: wd.Range})
		}
		allocations = append(allocations, rules.Allocation{Range: wa.Range, Distributions: distributions})
	}
	return &rules.Bucket{Selector: wb.Selector, Salt: wb.Salt, Allocations: allocations}
}

func decodeConditions(wc [][]wireCondition) [][]rules.Condition {
	out := make([][]rules.Condition, 0, len(wc))
	for _, group := range wc {
		converted := make([]rules.Condition, 0, len(group))
		for _, c := range group {
			converted = append(converted, rules.Condition{Selector: c.Selector, Op: rules.Operator(c.Op), Values: c.Values})
		}
		out = append(out, converted)
	}
	return out
}
