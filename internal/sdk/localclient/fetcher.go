package localclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

// httpFetcher retrieves the full flag configuration via GET /sdk/v2/flags,
// grounded on flag.flag_config_api.FlagConfigApiV2.get_flag_configs.
type httpFetcher struct {
	url        string
	apiKey     string
	library    string
	httpClient *http.Client
}

func newHTTPFetcher(baseURL, apiKey string, httpClient *http.Client) *httpFetcher {
	return &httpFetcher{
		url:        baseURL + "/sdk/v2/flags?v=0",
		apiKey:     apiKey,
		library:    "experiment-go-server/local",
		httpClient: httpClient,
	}
}

// FetchFlagConfigs implements flagconfig.FlagConfigFetcher.
func (f *httpFetcher) FetchFlagConfigs(ctx context.Context) (map[string]rules.Flag, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Api-Key "+f.apiKey)
	req.Header.Set("X-Amp-Exp-Library", f.library)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch flag configs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch flag configs: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read flag config response: %w", err)
	}
	return DecodeFlags(body)
}
