package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"tg-archiver/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CoordinatorConfig is the subset of settings the run orchestration needs,
// already resolved and validated by the config layer.
type CoordinatorConfig struct {
	ChannelHandle string
	StartID       int
	EndID         int
	DownloadRoot  string

	StorageMode         string // raw | upload | hybrid
	TargetChannelHandle string
	PreserveCaptions    bool
	PreserveMediaGroups bool
	UploadDelay         time.Duration
	DeleteAfterUpload   bool

	DistributionMetric     LoadMetric
	PreferLargeGroupsFirst bool
	OversizedSplitFactor   int
	UploadQueueCapacity    int

	// MaxConcurrentClients caps how many online sessions fetch concurrently;
	// <= 0 means "use every online session" (spec default).
	MaxConcurrentClients int
	// MessageBatchSize paces each fetcher's cancellation checks and
	// inter-batch pauses; <= 0 falls back to defaultFetchBatchSize.
	MessageBatchSize int
}

// RunResult is everything the CLI layer needs to render a final report.
type RunResult struct {
	RunID        string
	Channel      domain.Chat
	Range        [2]int
	FetchResults []domain.FetchResult
	Balance      domain.BalanceReport
	UploadCounts domain.UploadCounters
	Uploading    bool
	TotalInvalid int
	DurationMS   int64
	Sessions     []domain.SessionDescriptor
}

// Coordinator drives one archiving run end to end: bring sessions online,
// resolve the source (and, if needed, target) chat, probe the id range,
// distribute work, and run fetchers (and an uploader, if configured)
// concurrently until the assignment is exhausted.
type Coordinator struct {
	pool *Pool
	fs   domain.FileSystem
	cfg  CoordinatorConfig
	log  *zap.Logger

	// ResolveTarget is called only when cfg.StorageMode != "raw" and
	// cfg.TargetChannelHandle == "", to let the UI layer pick interactively.
	ResolveTarget func(ctx context.Context, dialogs []domain.Chat) (domain.Chat, error)
}

// NewCoordinator constructs a Coordinator over an already-running Pool.
func NewCoordinator(pool *Pool, fs domain.FileSystem, cfg CoordinatorConfig, log *zap.Logger) *Coordinator {
	return &Coordinator{pool: pool, fs: fs, cfg: cfg, log: log}
}

// Run executes one full archive: probe, distribute, fetch, and (if
// configured) upload. It returns once every fetcher has finished and any
// upload queue has fully drained.
func (c *Coordinator) Run(ctx context.Context) (RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := c.log.With(zap.String("run_id", runID))

	if err := c.pool.BringOnline(); err != nil {
		return RunResult{}, fmt.Errorf("bringing sessions online: %w", err)
	}

	sessions := c.pool.Online()
	if len(sessions) == 0 {
		return RunResult{}, &domain.PoolExhaustedError{Reason: "no sessions came online"}
	}
	if maxClients := c.cfg.MaxConcurrentClients; maxClients > 0 && maxClients < len(sessions) {
		log.Info("capping concurrent sessions", zap.Int("online", len(sessions)), zap.Int("cap", maxClients))
		sessions = sessions[:maxClients]
	}

	probeTransport, err := c.pool.Acquire(sessions[0])
	if err != nil {
		return RunResult{}, fmt.Errorf("acquiring probe session: %w", err)
	}

	source, err := probeTransport.GetChat(ctx, c.cfg.ChannelHandle)
	if err != nil {
		return RunResult{}, fmt.Errorf("resolving source channel %q: %w", c.cfg.ChannelHandle, err)
	}

	var target domain.Chat
	uploading := c.cfg.StorageMode != "raw"
	if uploading {
		target, err = c.resolveTarget(ctx, probeTransport)
		if err != nil {
			return RunResult{}, fmt.Errorf("resolving target channel: %w", err)
		}
	}

	probe := NewProbe(probeTransport, source, log)
	valid, invalid, probeStats, err := probe.Run(ctx, c.cfg.StartID, c.cfg.EndID)
	if err != nil {
		return RunResult{}, fmt.Errorf("probing id range: %w", err)
	}
	log.Info("probe complete",
		zap.Int("valid", probeStats.Valid),
		zap.Int("invalid", probeStats.Invalid),
		zap.Int("batches", probeStats.Batches),
		zap.Int("retries", probeStats.Retries),
	)

	distributor := NewDistributor(DistributorConfig{
		Metric:                 c.cfg.DistributionMetric,
		PreferLargeGroupsFirst: c.cfg.PreferLargeGroupsFirst,
		SplitThresholdFactor:   c.cfg.OversizedSplitFactor,
	})
	assignment, balance := distributor.Distribute(valid, sessions)
	log.Info("distribution complete", zap.String("balance", balance.String()))

	channelDir := filepath.Join(c.cfg.DownloadRoot, domain.ChannelDirName(source.Username, source.Title))

	var uploadQueue chan domain.FetchedItem
	var uploaderDone chan domain.UploadCounters
	if uploading {
		queueCap := c.cfg.UploadQueueCapacity
		if queueCap <= 0 {
			queueCap = 100
		}
		uploadQueue = make(chan domain.FetchedItem, queueCap)
		uploaderDone = make(chan domain.UploadCounters, 1)

		uploaderTransport, err := c.pool.Acquire(sessions[0])
		if err != nil {
			return RunResult{}, fmt.Errorf("acquiring uploader session: %w", err)
		}
		uploader := NewUploader(uploaderTransport, target, c.fs, UploaderConfig{
			PreserveCaptions:    c.cfg.PreserveCaptions,
			PreserveMediaGroups: c.cfg.PreserveMediaGroups,
			UploadDelay:         c.cfg.UploadDelay,
			DeleteAfterUpload:   c.cfg.DeleteAfterUpload,
		}, log)
		go func() {
			uploaderDone <- uploader.Run(ctx, uploadQueue)
		}()
	}

	group, gctx := errgroup.WithContext(ctx)
	results := make(chan domain.FetchResult, len(sessions))
	for _, name := range sessions {
		name := name
		groups := assignment.GroupsFor(name)
		if len(groups) == 0 {
			continue
		}
		group.Go(func() error {
			transport, err := c.pool.Acquire(name)
			if err != nil {
				return fmt.Errorf("acquiring session %q: %w", name, err)
			}
			fetcher := NewFetcher(FetcherDeps{
				Transport:   transport,
				Chat:        source,
				FS:          c.fs,
				Pool:        c.pool,
				Session:     name,
				ChannelDir:  channelDir,
				Uploads:     uploadsChan(uploadQueue, uploading),
				StorageMode: c.cfg.StorageMode,
				BatchSize:   c.cfg.MessageBatchSize,
				Log:         log,
			})
			res, err := fetcher.Run(gctx, groups)
			results <- res
			return err
		})
	}

	runErr := group.Wait()
	close(results)

	var fetchResults []domain.FetchResult
	for r := range results {
		fetchResults = append(fetchResults, r)
	}

	var uploadCounts domain.UploadCounters
	if uploading {
		close(uploadQueue)
		uploadCounts = <-uploaderDone
	}

	result := RunResult{
		RunID:        runID,
		Channel:      source,
		Range:        [2]int{c.cfg.StartID, c.cfg.EndID},
		FetchResults: fetchResults,
		Balance:      balance,
		UploadCounts: uploadCounts,
		Uploading:    uploading,
		TotalInvalid: len(invalid),
		DurationMS:   time.Since(start).Milliseconds(),
		Sessions:     c.pool.Snapshot(),
	}
	return result, runErr
}

func (c *Coordinator) resolveTarget(ctx context.Context, transport domain.Transport) (domain.Chat, error) {
	if c.cfg.TargetChannelHandle != "" {
		return transport.GetChat(ctx, c.cfg.TargetChannelHandle)
	}
	if c.ResolveTarget == nil {
		return domain.Chat{}, fmt.Errorf("target_channel is required but no interactive resolver is configured")
	}
	dialogs, err := transport.ListDialogs(ctx)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("listing dialogs: %w", err)
	}
	return c.ResolveTarget(ctx, dialogs)
}

func uploadsChan(q chan domain.FetchedItem, uploading bool) chan<- domain.FetchedItem {
	if !uploading {
		return nil
	}
	return q
}
