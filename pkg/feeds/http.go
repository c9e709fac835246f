package feeds

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rriggio/energino/pkg/telemetry"
)

// Datastream labels of the CSV feed, one line per measurement.
const (
	streamVoltage = "voltage"
	streamCurrent = "current"
	streamPower   = "power"
	streamSwitch  = "switch"
)

const httpTimeout = 10 * time.Second

var _ Feed = (*HTTP)(nil)

// HTTP publishes to a Cosm style feeds endpoint: a CSV body with one
// datastream per line, PUT to <feedsurl>/<feedid>.csv, the api key in the
// X-ApiKey header.
type HTTP struct {
	client *http.Client
	url    string
	apiKey string
	log    zerolog.Logger
}

// NewHTTP builds a feed for the endpoint the settings record names.
func NewHTTP(feedsURL string, feedID uint32, apiKey string, log zerolog.Logger) *HTTP {
	return &HTTP{
		client: &http.Client{Timeout: httpTimeout},
		url:    fmt.Sprintf("%s/%d.csv", strings.TrimSuffix(feedsURL, "/"), feedID),
		apiKey: apiKey,
		log:    log.With().Str("component", "feeds").Str("kind", "http").Logger(),
	}
}

func (f *HTTP) Publish(ctx context.Context, r telemetry.Report) error {
	relay := 0
	if r.RelayOn {
		relay = 1
	}
	var body bytes.Buffer
	fmt.Fprintf(&body, "%s,%.*f\n", streamVoltage, telemetry.VoltageDigits, r.Voltage)
	fmt.Fprintf(&body, "%s,%.*f\n", streamCurrent, telemetry.CurrentDigits, r.Current)
	fmt.Fprintf(&body, "%s,%.*f\n", streamPower, telemetry.PowerDigits, r.Power)
	fmt.Fprintf(&body, "%s,%d\n", streamSwitch, relay)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, f.url, &body)
	if err != nil {
		return fmt.Errorf("failed to create feed request: %w", err)
	}
	req.Header.Set("Content-Type", "text/csv")
	if f.apiKey != "" {
		req.Header.Set("X-ApiKey", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed push failed, expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}
	return nil
}

func (f *HTTP) Close() error { return nil }
