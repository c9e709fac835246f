// Package feeds pushes telemetry windows to remote collectors using the
// upload credentials the settings record carries (feedsurl, feedid,
// apikey). Feeds are wired up at startup from the loaded record; credential
// changes made over the console take effect on the next start.
package feeds

import (
	"context"
	"errors"
	"fmt"

	"github.com/rriggio/energino/pkg/telemetry"
)

// Feed publishes one telemetry window to a collector.
type Feed interface {
	Publish(ctx context.Context, r telemetry.Report) error
	Close() error
}

// DefaultTopic returns the broker topic for a feed id.
func DefaultTopic(feedID uint32) string {
	return fmt.Sprintf("energino/%d", feedID)
}

// Multi fans a report out to several feeds. Every feed sees the report
// even when an earlier one fails; the failures come back joined.
type Multi []Feed

var _ Feed = (Multi)(nil)

func (m Multi) Publish(ctx context.Context, r telemetry.Report) error {
	var errs []error
	for _, f := range m {
		if err := f.Publish(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, f := range m {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
