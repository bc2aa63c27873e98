package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/TimurManjosov/goflagship/internal/auth"
	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
	"github.com/TimurManjosov/goflagship/internal/store"
	"github.com/TimurManjosov/goflagship/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

// SDKWireConfig carries the knobs the three SDK-facing handlers below need
// that aren't already on Server: the deployment-key/secret-key Basic-auth
// pair for the cohort endpoint, and the max cohort size default.
type SDKWireConfig struct {
	DeploymentKey    string
	DeploymentSecret string
	MaxCohortSize    int
	StreamMaxAge     time.Duration
}

// wireVariant/wireSegment/... mirror the JSON shape internal/sdk/localclient's
// wireFlag decoder expects from GET /sdk/v2/flags and the streaming endpoint.
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

type wireFlag struct {
	Key          string                 `json:"key"`
	Variants     map[string]wireVariant `json:"variants"`
	Segments     []wireSegment          `json:"segments"`
	Dependencies []string               `json:"dependencies"`
	Metadata     map[string]any         `json:"metadata"`
}

// encodeSDKFlags converts store.Flag rows into the wire shape SDK runtimes
// decode via localclient.DecodeFlags. A flag with no Segments falls back to
// a single always-matching segment derived from its legacy rollout, so
// flags created through the pre-SDK admin UI still evaluate correctly.
func encodeSDKFlags(flags []store.Flag) []wireFlag {
	out := make([]wireFlag, 0, len(flags))
	for _, f := range flags {
		if !f.Enabled {
			continue
		}
		out = append(out, wireFlag{
			Key:          f.Key,
			Variants:     encodeVariants(f),
			Segments:     encodeSegments(f),
			Dependencies: f.Dependencies,
			Metadata:     map[string]any{"env": f.Env},
		})
	}
	return out
}

func encodeVariants(f store.Flag) map[string]wireVariant {
	variants := make(map[string]wireVariant, len(f.Variants)+1)
	for _, v := range f.Variants {
		variants[v.Name] = wireVariant{Key: v.Name, Value: v.Name, Payload: v.Config}
	}
	variants["on"] = wireVariant{Key: "on", Value: true}
	variants["off"] = wireVariant{Key: "off", Value: false}
	return variants
}

// encodeSegments prefers the flag's own Segments; absent those, it
// synthesizes one full-rollout-at-Rollout-percent segment so a flag created
// before segments existed still behaves like its Rollout percentage says.
func encodeSegments(f store.Flag) []wireSegment {
	if len(f.Segments) > 0 {
		out := make([]wireSegment, 0, len(f.Segments))
		for _, s := range f.Segments {
			out = append(out, encodeSegment(s))
		}
		return out
	}

	return []wireSegment{{
		Bucket: &wireBucket{
			Selector: []string{"context", "user", "device_id"},
			Salt:     f.Key,
			Allocations: []wireAllocation{{
				Range: [2]int{0, int(f.Rollout)},
				Distributions: []wireDistribution{
					{Variant: "on", Range: [2]int{0, 42949673}},
				},
			}},
		},
		Variant: "off",
	}}
}

func encodeSegment(s rules.Segment) wireSegment {
	ws := wireSegment{Variant: s.Variant, Metadata: s.Metadata}
	if s.Bucket != nil {
		allocations := make([]wireAllocation, 0, len(s.Bucket.Allocations))
		for _, a := range s.Bucket.Allocations {
			distributions := make([]wireDistribution, 0, len(a.Distributions))
			for _, d := range a.Distributions {
				distributions = append(distributions, wireDistribution{Variant: d.Variant, Range: d.Range})
			}
			allocations = append(allocations, wireAllocation{Range: a.Range, Distributions: distributions})
		}
		ws.Bucket = &wireBucket{Selector: s.Bucket.Selector, Salt: s.Bucket.Salt, Allocations: allocations}
	}
	for _, group := range s.Conditions {
		converted := make([]wireCondition, 0, len(group))
		for _, c := range group {
			converted = append(converted, wireCondition{Selector: c.Selector, Op: string(c.Op), Values: c.Values})
		}
		ws.Conditions = append(ws.Conditions, converted)
	}
	return ws
}

// handleSDKFlags serves GET /sdk/v2/flags: the full current flag
// configuration for s.env, in the wire shape embedded SDKs decode.
func (s *Server) handleSDKFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.store.GetAllFlags(r.Context(), s.env)
	if err != nil {
		InternalError(w, r, "Failed to load flag configs")
		return
	}
	writeJSON(w, http.StatusOK, encodeSDKFlags(flags))
}

// handleSDKStream serves GET /sdk/stream/v1/flags: an SSE connection that
// pushes the full flag-config array on every snapshot update, matching the
// framing flagconfig.StreamSource expects (a "data:" line per full payload,
// no incremental diffs).
func (s *Server) handleSDKStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	telemetry.SSEClients.Inc()
	defer telemetry.SSEClients.Dec()

	writeCurrentSDKFlags := func() error {
		flags, err := s.store.GetAllFlags(r.Context(), s.env)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(encodeSDKFlags(flags))
		if err != nil {
			return err
		}
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
		return nil
	}

	if err := writeCurrentSDKFlags(); err != nil {
		InternalError(w, r, "Failed to load flag configs")
		return
	}

	updates, unsubscribe := s.snapshotSubscribe()
	defer unsubscribe()

	maxAge := s.sdkWire.StreamMaxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	deadline := time.NewTimer(maxAge)
	defer deadline.Stop()

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
			if err := writeCurrentSDKFlags(); err != nil {
				return
			}
		case <-ticker.C:
			w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleSDKCohort serves GET /sdk/v1/cohort/{id}, the SDK runtime's polling
// cohort download contract (cohort.Downloader): Basic auth against the
// deployment key/secret pair, maxCohortSize/lastModified query params,
// 200 (full body) / 204 (unchanged since lastModified) / 413 (too large).
// This handler always answers synchronously (200/204/413); it never returns
// 202/429, since this control plane computes cohorts eagerly rather than as
// an async job the client must poll for completion — those codes exist in
// the wire contract for downloader.go's retry loop to handle, not for this
// server to emit.
func (s *Server) handleSDKCohort(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || !auth.VerifyBasic(user, pass, s.sdkWire.DeploymentKey, s.sdkWire.DeploymentSecret) {
		w.Header().Set("WWW-Authenticate", `Basic realm="sdk"`)
		UnauthorizedError(w, r, "Invalid deployment credentials")
		return
	}

	telemetry.SDKCohortDownloadsInFlight.Inc()
	defer telemetry.SDKCohortDownloadsInFlight.Dec()

	cohortStore, ok := s.store.(store.CohortStore)
	if !ok {
		InternalError(w, r, "Cohort storage not available")
		return
	}

	id := chi.URLParam(r, "id")
	cohort, err := cohortStore.GetCohort(r.Context(), id)
	if err != nil {
		NotFoundError(w, r, "Cohort not found")
		return
	}

	maxSize := s.sdkWire.MaxCohortSize
	if q := r.URL.Query().Get("maxCohortSize"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil {
			maxSize = parsed
		}
	}
	if maxSize > 0 && cohort.Size > maxSize {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	if q := r.URL.Query().Get("lastModified"); q != "" {
		if parsed, err := strconv.ParseInt(q, 10, 64); err == nil {
			if cohort.LastComputed.UnixMilli() <= parsed {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cohort_id":     cohort.ID,
		"last_computed": cohort.LastComputed.UnixMilli(),
		"size":          cohort.Size,
		"group_type":    cohort.GroupType,
		"member_ids":    cohort.MemberIDs,
	})
}

// handleListCohorts serves GET /v1/admin/cohorts: the management-plane view
// of every cohort, for operators inspecting cohort sync state rather than
// the SDK runtime consuming /sdk/v1/cohort/{id}.
func (s *Server) handleListCohorts(w http.ResponseWriter, r *http.Request) {
	cohortStore, ok := s.store.(store.CohortStore)
	if !ok {
		InternalError(w, r, "Cohort storage not available")
		return
	}
	cohorts, err := cohortStore.ListCohorts(r.Context())
	if err != nil {
		InternalError(w, r, "Failed to list cohorts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cohorts": cohorts})
}

// handleGetCohort serves GET /v1/admin/cohorts/{id}.
func (s *Server) handleGetCohort(w http.ResponseWriter, r *http.Request) {
	cohortStore, ok := s.store.(store.CohortStore)
	if !ok {
		InternalError(w, r, "Cohort storage not available")
		return
	}
	id := chi.URLParam(r, "id")
	cohort, err := cohortStore.GetCohort(r.Context(), id)
	if err != nil {
		NotFoundError(w, r, "Cohort not found")
		return
	}
	writeJSON(w, http.StatusOK, cohort)
}
