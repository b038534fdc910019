package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg-archiver/internal/adapter/filesystem"
	"tg-archiver/internal/adapter/telegram"
	"tg-archiver/internal/adapter/ui"
	"tg-archiver/internal/config"
	"tg-archiver/internal/domain"
	"tg-archiver/internal/usecase"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var defaults config.Settings
	rootCmd := &cobra.Command{
		Use:   "tg-archiver",
		Short: "Archive a Telegram channel's history across multiple sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
	config.RegisterFlags(rootCmd, &defaults)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	bootLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("constructing logger: %w", err)
	}
	defer bootLog.Sync()

	settings, err := config.Load(bootLog, cmd)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := bootLog
	if lvl, lerr := zap.ParseAtomicLevel(settings.LogLevel); lerr == nil {
		log = log.WithOptions(zap.IncreaseLevel(lvl.Level()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("shutdown signal received, cancelling run")
		cancel()
	}()

	console := ui.NewConsoleUI(settings.NonInteractive)

	sessionFiles, err := config.SessionFiles(settings.SessionsDir)
	if err != nil {
		return fmt.Errorf("listing session files: %w", err)
	}
	if len(sessionFiles) == 0 {
		return fmt.Errorf("no session files found under %s; authenticate at least one session first", settings.SessionsDir)
	}

	handles := make([]usecase.SessionHandle, 0, len(sessionFiles))
	for _, path := range sessionFiles {
		name := config.SessionName(path)
		sess, err := telegram.NewSession(name, int(settings.AppID), settings.AppHash, path, log)
		if err != nil {
			return fmt.Errorf("constructing session %q: %w", name, err)
		}
		sess.SetProgressReporter(console)

		handles = append(handles, usecase.SessionHandle{
			Name:      name,
			Transport: sess,
			Start: func(ctx context.Context) error {
				return sess.Start(ctx, console)
			},
		})
	}

	pool := usecase.NewPool(ctx, handles, log)
	defer pool.Shutdown()

	localFS := filesystem.NewLocalFileSystem()

	coordCfg := usecase.CoordinatorConfig{
		ChannelHandle:          settings.ChannelHandle,
		StartID:                settings.StartID,
		EndID:                  settings.EndID,
		DownloadRoot:           settings.DownloadDir,
		StorageMode:            settings.StorageMode,
		TargetChannelHandle:    settings.TargetChannel,
		PreserveCaptions:       settings.PreserveCaptions,
		PreserveMediaGroups:    settings.PreserveMediaGroups,
		UploadDelay:            secondsToDuration(settings.UploadDelaySeconds),
		DeleteAfterUpload:      settings.DeleteAfterUpload,
		DistributionMetric:     usecase.LoadMetric(settings.DistributionMetric),
		PreferLargeGroupsFirst: settings.PreferLargeGroupsFirst,
		OversizedSplitFactor:   settings.OversizedSplitFactor,
		UploadQueueCapacity:    100,
		MaxConcurrentClients:   settings.MaxConcurrentClients,
		MessageBatchSize:       settings.MessageBatchSize,
	}

	coordinator := usecase.NewCoordinator(pool, localFS, coordCfg, log)
	coordinator.ResolveTarget = func(ctx context.Context, dialogs []domain.Chat) (domain.Chat, error) {
		return console.SelectChannel(dialogs)
	}

	result, runErr := coordinator.Run(ctx)

	console.PrintReport(ui.RunReport{
		Channel:      result.Channel.Title,
		Range:        result.Range,
		Sessions:     result.Sessions,
		FetchResults: result.FetchResults,
		Balance:      result.Balance,
		UploadCounts: result.UploadCounts,
		Uploading:    result.Uploading,
		TotalInvalid: result.TotalInvalid,
		DurationMS:   result.DurationMS,
	})
	console.PrintSessionStatus(result.Sessions)

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
