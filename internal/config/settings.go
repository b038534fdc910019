package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// StorageMode selects what the coordinator does with fetched media.
type StorageMode string

const (
	StorageRaw    StorageMode = "raw"
	StorageUpload StorageMode = "upload"
	StorageHybrid StorageMode = "hybrid"
)

// Settings is the full §6 knob table, loadable from environment variables
// (kelseyhightower/envconfig) with CLI flags (spf13/cobra) taking
// precedence, mirroring the envconfig+cobra pattern this pack's streaming
// bot uses for its own config surface.
type Settings struct {
	AppID   int32  `envconfig:"APP_ID" required:"true"`
	AppHash string `envconfig:"APP_HASH" required:"true"`

	SessionsDir string `envconfig:"SESSIONS_DIR"`
	DownloadDir string `envconfig:"DOWNLOAD_DIR" default:"./downloads"`

	ChannelHandle string `envconfig:"CHANNEL_HANDLE"`
	StartID       int    `envconfig:"START_ID"`
	EndID         int    `envconfig:"END_ID"`

	StorageMode          string `envconfig:"STORAGE_MODE" default:"raw"`
	TargetChannel        string `envconfig:"TARGET_CHANNEL"`
	PreserveCaptions     bool   `envconfig:"PRESERVE_CAPTIONS" default:"true"`
	PreserveMediaGroups  bool   `envconfig:"PRESERVE_MEDIA_GROUPS" default:"true"`
	UploadDelaySeconds   float64 `envconfig:"UPLOAD_DELAY_SECONDS" default:"1.5"`
	DeleteAfterUpload    bool   `envconfig:"DELETE_AFTER_UPLOAD" default:"false"`

	MaxConcurrentClients    int    `envconfig:"MAX_CONCURRENT_CLIENTS"`
	MessageBatchSize        int    `envconfig:"MESSAGE_BATCH_SIZE" default:"50"`
	DistributionMetric      string `envconfig:"DISTRIBUTION_METRIC" default:"file_count"`
	PreferLargeGroupsFirst  bool   `envconfig:"PREFER_LARGE_GROUPS_FIRST" default:"true"`
	OversizedSplitFactor    int    `envconfig:"OVERSIZED_ALBUM_SPLIT_FACTOR" default:"2"`

	NonInteractive bool `envconfig:"NON_INTERACTIVE" default:"false"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

// RegisterFlags wires cobra flags mirroring every Settings field, with flag
// defaults taken from defaults. A flag only takes effect when set
// explicitly (see flagsToEnv); otherwise the environment or the envconfig
// default applies, whatever default --help shows for it.
func RegisterFlags(cmd *cobra.Command, defaults *Settings) {
	cmd.Flags().String("sessions-dir", defaults.SessionsDir, "directory of gotd session files, one per authenticated session")
	cmd.Flags().String("download-dir", defaults.DownloadDir, "root directory media is archived under")
	cmd.Flags().String("channel", defaults.ChannelHandle, "source channel handle, e.g. @csdkl")
	cmd.Flags().Int("start-id", defaults.StartID, "first message id in the archive range")
	cmd.Flags().Int("end-id", defaults.EndID, "last message id in the archive range")
	cmd.Flags().String("storage-mode", defaults.StorageMode, "raw, upload, or hybrid")
	cmd.Flags().String("target-channel", defaults.TargetChannel, "destination channel for upload/hybrid modes")
	cmd.Flags().Bool("preserve-captions", defaults.PreserveCaptions, "forward original captions on re-upload")
	cmd.Flags().Bool("preserve-media-groups", defaults.PreserveMediaGroups, "reassemble albums on re-upload")
	cmd.Flags().Float64("upload-delay-seconds", defaults.UploadDelaySeconds, "pause after each upload")
	cmd.Flags().Bool("delete-after-upload", defaults.DeleteAfterUpload, "remove local file once its upload succeeds (hybrid mode)")
	cmd.Flags().Int("max-concurrent-clients", defaults.MaxConcurrentClients, "cap on sessions used concurrently (default: all online sessions)")
	cmd.Flags().Int("message-batch-size", defaults.MessageBatchSize, "fetcher batch size for cancellation checks and inter-batch pauses, hard-capped at 100")
	cmd.Flags().String("distribution-metric", defaults.DistributionMetric, "file_count, message_count, size_estimate, or mixed")
	cmd.Flags().Bool("prefer-large-groups-first", defaults.PreferLargeGroupsFirst, "assign larger albums before smaller ones")
	cmd.Flags().Int("oversized-album-split-factor", defaults.OversizedSplitFactor, "an album larger than factor*session_count is split")
	cmd.Flags().Bool("non-interactive", defaults.NonInteractive, "disable progress bars and interactive prompts")
	cmd.Flags().String("log-level", defaults.LogLevel, "debug, info, warn, or error")
}

func flagsToEnv(cmd *cobra.Command) {
	strFlag := func(name, env string) {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			os.Setenv(env, v)
		}
	}
	intFlag := func(name, env string) {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetInt(name)
			os.Setenv(env, strconv.Itoa(v))
		}
	}
	boolFlag := func(name, env string) {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetBool(name)
			os.Setenv(env, strconv.FormatBool(v))
		}
	}
	floatFlag := func(name, env string) {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetFloat64(name)
			os.Setenv(env, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}

	strFlag("sessions-dir", "SESSIONS_DIR")
	strFlag("download-dir", "DOWNLOAD_DIR")
	strFlag("channel", "CHANNEL_HANDLE")
	intFlag("start-id", "START_ID")
	intFlag("end-id", "END_ID")
	strFlag("storage-mode", "STORAGE_MODE")
	strFlag("target-channel", "TARGET_CHANNEL")
	boolFlag("preserve-captions", "PRESERVE_CAPTIONS")
	boolFlag("preserve-media-groups", "PRESERVE_MEDIA_GROUPS")
	floatFlag("upload-delay-seconds", "UPLOAD_DELAY_SECONDS")
	boolFlag("delete-after-upload", "DELETE_AFTER_UPLOAD")
	intFlag("max-concurrent-clients", "MAX_CONCURRENT_CLIENTS")
	intFlag("message-batch-size", "MESSAGE_BATCH_SIZE")
	strFlag("distribution-metric", "DISTRIBUTION_METRIC")
	boolFlag("prefer-large-groups-first", "PREFER_LARGE_GROUPS_FIRST")
	intFlag("oversized-album-split-factor", "OVERSIZED_ALBUM_SPLIT_FACTOR")
	boolFlag("non-interactive", "NON_INTERACTIVE")
	strFlag("log-level", "LOG_LEVEL")
}

// Load resolves Settings from flags (highest precedence), then environment
// variables, applying defaults and validation.
func Load(log *zap.Logger, cmd *cobra.Command) (*Settings, error) {
	flagsToEnv(cmd)

	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if s.SessionsDir == "" {
		dir, err := DefaultSessionsDir()
		if err != nil {
			return nil, fmt.Errorf("resolving default sessions directory: %w", err)
		}
		s.SessionsDir = dir
	}

	if s.MessageBatchSize <= 0 || s.MessageBatchSize > 100 {
		log.Warn("message_batch_size out of [1,100], clamping to 50", zap.Int("given", s.MessageBatchSize))
		s.MessageBatchSize = 50
	}

	if s.StorageMode != string(StorageRaw) && s.StorageMode != string(StorageUpload) && s.StorageMode != string(StorageHybrid) {
		return nil, fmt.Errorf("invalid storage_mode %q: must be raw, upload, or hybrid", s.StorageMode)
	}
	if s.StorageMode != string(StorageRaw) && s.TargetChannel == "" {
		return nil, fmt.Errorf("target_channel is required when storage_mode is %q", s.StorageMode)
	}
	if s.ChannelHandle == "" {
		return nil, fmt.Errorf("channel handle is required")
	}
	if s.StartID <= 0 || s.EndID < s.StartID {
		return nil, fmt.Errorf("invalid id range [%d, %d]", s.StartID, s.EndID)
	}

	return &s, nil
}
