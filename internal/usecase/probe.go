package usecase

import (
	"context"
	"errors"
	"time"

	"tg-archiver/internal/domain"

	"go.uber.org/zap"
)

const probeBatchSize = 100

// ProbeStats is the operator-facing summary of one probe run.
type ProbeStats struct {
	Requested int
	Valid     int
	Invalid   int
	Batches   int
	Retries   int
}

// Probe classifies a contiguous id range into valid (media or text)
// descriptors and invalid (absent or unclassifiable) ids, folding in size
// estimation so later components never touch the transport for sizing.
type Probe struct {
	transport domain.Transport
	chat      domain.Chat
	log       *zap.Logger
}

// NewProbe constructs a Probe bound to one acquired session's transport and
// the already-resolved source chat.
func NewProbe(transport domain.Transport, chat domain.Chat, log *zap.Logger) *Probe {
	return &Probe{transport: transport, chat: chat, log: log}
}

// Run fetches every id in [start, end] in batches of up to probeBatchSize,
// classifying each. valid preserves ascending id order and contains no
// duplicates.
func (p *Probe) Run(ctx context.Context, start, end int) (valid []domain.MessageDescriptor, invalid []int, stats ProbeStats, err error) {
	if start > end {
		return nil, nil, stats, errors.New("probe: start must be <= end")
	}

	ids := make([]int, 0, end-start+1)
	for id := start; id <= end; id++ {
		ids = append(ids, id)
	}
	stats.Requested = len(ids)

	for i := 0; i < len(ids); i += probeBatchSize {
		batch := ids[i:min(i+probeBatchSize, len(ids))]
		stats.Batches++

		descs, err := p.fetchBatchWithRateLimit(ctx, batch, &stats)
		if err != nil {
			p.log.Warn("probe batch failed, marking ids invalid", zap.Int("batch_start", batch[0]), zap.Error(err))
			invalid = append(invalid, batch...)
			continue
		}

		for i, d := range descs {
			if d == nil {
				invalid = append(invalid, batch[i])
				continue
			}
			valid = append(valid, *d)
		}
	}

	stats.Valid = len(valid)
	stats.Invalid = len(invalid)
	return valid, invalid, stats, nil
}

func (p *Probe) fetchBatchWithRateLimit(ctx context.Context, batch []int, stats *ProbeStats) ([]*domain.MessageDescriptor, error) {
	for {
		descs, err := p.transport.GetMessages(ctx, p.chat, batch)
		if err == nil {
			return descs, nil
		}

		var rl *domain.RateLimitedError
		if errors.As(err, &rl) {
			stats.Retries++
			p.log.Warn("rate limited during probe, sleeping", zap.Duration("wait", rl.Wait))
			select {
			case <-time.After(rl.Wait):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		return nil, err
	}
}
