package cohort

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrCohortTooLarge is returned when the control plane reports a cohort
// exceeds the configured maximum size (HTTP 413).
var ErrCohortTooLarge = errors.New("cohort too large")

// ErrTooManyRetries is returned once a download has exhausted its retry
// budget against repeated non-2xx, non-202, non-429 responses.
var ErrTooManyRetries = errors.New("cohort download exceeded retry budget")

const maxDownloadErrors = 3

// Downloader fetches cohort descriptions and membership from the control
// plane's /sdk/v1/cohort/{id} endpoint, grounded on
// DirectCohortDownloadApiV5's status-driven retry/poll loop, simplified to
// the single-endpoint synchronous contract spec.md §6 describes (202 =
// in-progress, poll again; 429 = rate limited, retry without counting
// against the error budget; any other non-200 error counts against a
// 3-strike budget; 413 = cohort exceeds MaxCohortSize).
type Downloader struct {
	BaseURL       string
	APIKey        string
	SecretKey     string
	MaxCohortSize int
	HTTPClient    *http.Client
	PollInterval  time.Duration
}

// NewDownloader constructs a Downloader with sane defaults for PollInterval
// and HTTPClient.
func NewDownloader(baseURL, apiKey, secretKey string, maxCohortSize int) *Downloader {
	return &Downloader{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		SecretKey:     secretKey,
		MaxCohortSize: maxCohortSize,
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
		PollInterval:  2 * time.Second,
	}
}

// Download fetches the full cohort identified by cohortID, including a
// lastComputed watermark for incremental sync (omitted when prior is the
// zero Description). The retry/poll loop is driven by backoff/v5's
// constant-delay policy: 202 (still computing) and 429 (rate limited) retry
// indefinitely at PollInterval without counting against the error budget;
// any other non-200/204 status counts against a 3-strike budget before
// becoming permanent.
func (d *Downloader) Download(ctx context.Context, cohortID string, prior Description) (Cohort, error) {
	errorCount := 0

	op := func() (Cohort, error) {
		cohort, status, err := d.attempt(ctx, cohortID, prior)
		if err != nil {
			return Cohort{}, backoff.Permanent(err)
		}

		switch status {
		case http.StatusOK:
			return cohort, nil
		case http.StatusNoContent:
			return Cohort{Description: prior}, nil
		case http.StatusAccepted, http.StatusTooManyRequests:
			return Cohort{}, fmt.Errorf("cohort %s: status %d, retrying", cohortID, status)
		case http.StatusRequestEntityTooLarge:
			return Cohort{}, backoff.Permanent(fmt.Errorf("%w: cohort %s", ErrCohortTooLarge, cohortID))
		default:
			errorCount++
			if errorCount >= maxDownloadErrors {
				return Cohort{}, backoff.Permanent(fmt.Errorf("%w: cohort %s last status %d", ErrTooManyRetries, cohortID, status))
			}
			return Cohort{}, fmt.Errorf("cohort %s: status %d", cohortID, status)
		}
	}

	return backoff.Retry(ctx, op, backoff.WithBackOff(backoff.NewConstantBackOff(d.PollInterval)))
}

type wireCohort struct {
	CohortID     string   `json:"cohort_id"`
	LastComputed int64    `json:"last_computed"`
	Size         int      `json:"size"`
	GroupType    string   `json:"group_type"`
	MemberIDs    []string `json:"member_ids"`
}

func (d *Downloader) attempt(ctx context.Context, cohortID string, prior Description) (Cohort, int, error) {
	url := fmt.Sprintf("%s/sdk/v1/cohort/%s?maxCohortSize=%d", d.BaseURL, cohortID, d.MaxCohortSize)
	if prior.LastComputed > 0 {
		url += "&lastModified=" + strconv.FormatInt(prior.LastComputed, 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Cohort{}, 0, err
	}
	req.Header.Set("Authorization", "Basic "+d.basicAuth())

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return Cohort{}, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Cohort{}, resp.StatusCode, nil
	}

	var wire wireCohort
	if err := json.NewDecoder(bufio.NewReader(resp.Body)).Decode(&wire); err != nil {
		return Cohort{}, 0, fmt.Errorf("decode cohort response: %w", err)
	}

	members := make(map[string]struct{}, len(wire.MemberIDs))
	for _, id := range wire.MemberIDs {
		members[id] = struct{}{}
	}

	groupType := wire.GroupType
	if groupType == "" {
		groupType = UserGroupType
	}

	return Cohort{
		Description: Description{
			ID:           wire.CohortID,
			LastComputed: wire.LastComputed,
			Size:         wire.Size,
			GroupType:    groupType,
		},
		Members: members,
	}, http.StatusOK, nil
}

func (d *Downloader) basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(d.APIKey + ":" + d.SecretKey))
}
