package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"naviai/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Poller is the shared "fetch new items since checkpoint, ingest each exactly
// once" primitive behind inbox polling, review fetching and rank tracking.
// The checkpoint advances only after the whole fetched batch persisted; a
// crash between fetch and persist re-fetches the window on the next poll and
// the (source, external id) dedup index absorbs the replay.
type Poller struct {
	kind    string
	sources SourceStore
	fetcher Fetcher
	sink    Sink
	logger  *logrus.Entry

	Now func() time.Time
}

func NewPoller(kind string, sources SourceStore, fetcher Fetcher, sink Sink, logger *logrus.Entry) *Poller {
	return &Poller{
		kind:    kind,
		sources: sources,
		fetcher: fetcher,
		sink:    sink,
		logger:  logger,
		Now:     time.Now,
	}
}

// Run polls every active source of the poller's kind. One source's failure
// never blocks the others.
func (p *Poller) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	now := p.Now()

	sources, err := p.sources.ActiveSources(p.kind)
	if err != nil {
		return sum, fmt.Errorf("fetching %s sources: %w", p.kind, err)
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Processed++
		sum.add(p.pollSource(ctx, src, now))
	}
	return sum, nil
}

func (p *Poller) pollSource(ctx context.Context, src models.PollSource, now time.Time) Summary {
	log := p.logger.WithFields(logrus.Fields{"source_id": src.ID, "kind": src.Kind})

	if expired, reason := tokenExpired(src, now); expired {
		if err := p.sources.MarkSourceInactive(src.ID, reason); err != nil {
			log.WithError(err).Error("failed to deactivate source")
		}
		log.Warn("source deactivated: " + reason)
		return Summary{Skipped: 1}
	}

	var since time.Time
	if src.LastCheckedAt != nil {
		since = *src.LastCheckedAt
	}

	items, err := p.fetcher.Fetch(ctx, src, since)
	if err != nil {
		if errors.Is(err, ErrSourceAuth) {
			if mErr := p.sources.MarkSourceInactive(src.ID, err.Error()); mErr != nil {
				log.WithError(mErr).Error("failed to deactivate source")
			}
			log.WithError(err).Warn("source deactivated: auth failure")
		} else {
			if mErr := p.sources.RecordSourceError(src.ID, err.Error()); mErr != nil {
				log.WithError(mErr).Error("failed to record source error")
			}
			log.WithError(err).Error("fetch failed")
		}
		return Summary{Failed: 1}
	}

	ingested := 0
	duplicates := 0
	persistedAll := true
	for _, item := range items {
		exists, err := p.sink.Exists(src.ID, item.ExternalID)
		if err != nil {
			log.WithError(err).WithField("external_id", item.ExternalID).Error("dedup check failed")
			persistedAll = false
			continue
		}
		if exists {
			duplicates++
			continue
		}
		if err := p.sink.Ingest(src, item); err != nil {
			log.WithError(err).WithField("external_id", item.ExternalID).Error("ingest failed")
			persistedAll = false
			continue
		}
		ingested++
	}

	// Never move the checkpoint past items that did not persist; the next
	// poll re-fetches the window and the dedup key skips what already landed.
	if persistedAll {
		if err := p.sources.AdvanceCheckpoint(src.ID, now); err != nil {
			log.WithError(err).Error("failed to advance checkpoint")
			return Summary{Failed: 1}
		}
	}

	if ingested > 0 || duplicates > 0 {
		log.WithFields(logrus.Fields{"ingested": ingested, "duplicates": duplicates}).Info("poll completed")
	}
	if !persistedAll {
		return Summary{Failed: 1}
	}
	return Summary{Succeeded: 1}
}

// tokenExpired reports whether an HTTP source's OAuth token has expired with
// no refresh token to renew it. IMAP sources carry no tokens and always pass.
func tokenExpired(src models.PollSource, now time.Time) (bool, string) {
	if src.AccessToken == "" || src.TokenExpiry == nil {
		return false, ""
	}
	token := &oauth2.Token{AccessToken: src.AccessToken, Expiry: *src.TokenExpiry}
	if token.Valid() || src.RefreshToken != "" {
		return false, ""
	}
	if now.Before(*src.TokenExpiry) {
		return false, ""
	}
	return true, "oauth token expired, reconnect required"
}
