package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/TimurManjosov/goflagship/internal/sdk/dedup"
	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

// mutualExclusionGroupFlagType mirrors flag.flag_type == "mutual-exclusion-group":
// flags in a mutual exclusion group are excluded from the $set user
// property map (since at most one variant in the group should "stick" as a
// durable user property) without being excluded from the event itself.
const mutualExclusionGroupFlagType = "mutual-exclusion-group"

const (
	// AssignmentEventType mirrors the reference client's assignment event name.
	AssignmentEventType = "[Experiment] Assignment"
	// ExposureEventType mirrors the reference client's exposure event name.
	ExposureEventType = "[Experiment] Exposure"

	// DefaultExposureTTL bounds how often a repeated identical exposure for
	// the same flag is re-emitted.
	DefaultExposureTTL = 24 * time.Hour
)

// Sink delivers a built Event to wherever assignment/exposure data is
// collected downstream.
type Sink interface {
	Track(ctx context.Context, event Event) error
}

// Emitter builds and (subject to dedup) emits Assignment and Exposure
// events from an evaluation result set. Grounded on
// assignment.assignment_service.AssignmentService and
// exposure.exposure_service.ExposureService, both of which wrap a Filter
// (here, dedup.Filter) around event construction and delivery.
type Emitter struct {
	Sink Sink

	assignmentFilter *dedup.Filter
	exposureFilter   *dedup.Filter

	exposureTTL time.Duration
}

// NewEmitter constructs an Emitter delivering to sink. Both filters use the
// empty-results short-circuit rule (see dedup.Filter), generalizing the
// reference client's exposure-only rule to assignment tracking too.
func NewEmitter(sink Sink) *Emitter {
	assignmentFilter := dedup.NewFilter(dedup.AssignmentCapacity, 24*time.Hour)
	assignmentFilter.EmptyResultsShortCircuit = true

	exposureFilter := dedup.NewFilter(dedup.ExposureCapacity, DefaultExposureTTL)
	exposureFilter.EmptyResultsShortCircuit = true

	return &Emitter{
		Sink:             sink,
		assignmentFilter: assignmentFilter,
		exposureFilter:   exposureFilter,
		exposureTTL:      DefaultExposureTTL,
	}
}

// TrackAssignment builds the single combined assignment event for results
// and delivers it to the sink unless it is a duplicate of one already seen
// within the assignment filter's TTL.
func (e *Emitter) TrackAssignment(ctx context.Context, userID, deviceID string, results map[string]rules.Variant, flags map[string]rules.Flag, now time.Time) error {
	canonical := CanonicalizeAssignment(userID, deviceID, results)
	if !e.assignmentFilter.ShouldTrack(canonical, len(results)) {
		return nil
	}

	event := buildAssignmentEvent(userID, deviceID, results, flags, now.UnixMilli())
	return e.Sink.Track(ctx, event)
}

// TrackExposures builds one exposure event per eligible flag in results and
// delivers each to the sink, subject to per-flag suppression rules and
// overall dedup.
func (e *Emitter) TrackExposures(ctx context.Context, userID, deviceID string, results map[string]rules.Variant, flags map[string]rules.Flag, now time.Time) error {
	canonical := CanonicalizeExposure(userID, deviceID, results)
	if !e.exposureFilter.ShouldTrack(canonical, len(results)) {
		return nil
	}

	nowMillis := now.UnixMilli()
	ttlMillis := e.exposureTTL.Milliseconds()

	for _, key := range sortedFlagKeys(results) {
		variant := results[key]
		if suppressed(variant) {
			continue
		}

		variantValue := variant.Key
		if variantValue == "" {
			if s, ok := variant.Value.(string); ok {
				variantValue = s
			}
		}

		setProps := map[string]any{}
		unsetProps := map[string]any{}
		flagType, _ := variant.Metadata["flagType"].(string)
		if flagType == "" {
			flagType, _ = flags[key].Metadata["flagType"].(string)
		}
		if flagType != mutualExclusionGroupFlagType && variantValue != "" {
			setProps["[Experiment] "+key] = variantValue
		}

		eventProps := map[string]any{
			"[Experiment] Flag Key": key,
		}
		if variantValue != "" {
			eventProps["[Experiment] Variant"] = variantValue
		}
		if len(variant.Metadata) > 0 {
			eventProps["metadata"] = variant.Metadata
		}

		event := Event{
			EventType:           ExposureEventType,
			UserID:              userID,
			DeviceID:            deviceID,
			EventProperties:     eventProps,
			UserPropertiesSet:   setProps,
			UserPropertiesUnset: unsetProps,
			InsertID:            ExposureInsertID(userID, deviceID, key, results, nowMillis, ttlMillis),
			TimeMillis:          nowMillis,
		}

		if err := e.Sink.Track(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// suppressed reports whether variant's metadata marks it as exempt from
// exposure tracking: trackExposure explicitly false, or the variant is a
// flag's built-in default (never an active experiment treatment).
func suppressed(variant rules.Variant) bool {
	if v, ok := variant.Metadata["trackExposure"].(bool); ok && !v {
		return true
	}
	if v, ok := variant.Metadata["default"].(bool); ok && v {
		return true
	}
	return false
}

func buildAssignmentEvent(userID, deviceID string, results map[string]rules.Variant, flags map[string]rules.Flag, nowMillis int64) Event {
	eventProps := make(map[string]any, len(results))
	setProps := make(map[string]any)
	unsetProps := make(map[string]any)

	for _, key := range sortedFlagKeys(results) {
		variant := results[key]
		if variant.Key == "" {
			continue
		}

		eventProps[key+".variant"] = variant.Key
		version, hasVersion := variant.Metadata["flagVersion"]
		segmentName, hasSegmentName := variant.Metadata["segmentName"]
		if hasVersion && hasSegmentName {
			eventProps[key+".details"] = fmt.Sprintf("v%v rule:%v", version, segmentName)
		}

		flagType, _ := variant.Metadata["flagType"].(string)
		if flagType == "" {
			flagType, _ = flags[key].Metadata["flagType"].(string)
		}
		if flagType == mutualExclusionGroupFlagType {
			continue
		}

		isDefault, _ := variant.Metadata["default"].(bool)
		expKey := "[Experiment] " + key
		if isDefault {
			unsetProps[expKey] = "-"
		} else {
			setProps[expKey] = variant.Key
		}
	}

	return Event{
		EventType:           AssignmentEventType,
		UserID:              userID,
		DeviceID:            deviceID,
		EventProperties:     eventProps,
		UserPropertiesSet:   setProps,
		UserPropertiesUnset: unsetProps,
		InsertID:            AssignmentInsertID(userID, deviceID, results, nowMillis),
		TimeMillis:          nowMillis,
	}
}
