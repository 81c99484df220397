package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aicostmanager/aicostmanager-go/pkg/config"
	"github.com/aicostmanager/aicostmanager-go/pkg/delivery"
	"github.com/aicostmanager/aicostmanager-go/pkg/dispatch"
	"github.com/aicostmanager/aicostmanager-go/pkg/inistore"
	"github.com/aicostmanager/aicostmanager-go/pkg/limits"
	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
	"github.com/aicostmanager/aicostmanager-go/pkg/tracker"
)

var (
	// Global flags
	apiKey       string
	apiBase      string
	iniPath      string
	deliveryType string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "aicm",
	Short: "AICostManager usage tracking CLI",
	Long: `aicm sends AI usage records to the AICostManager ingestion API and
manages the SDK's local state: the shared INI file holding triggered
usage limits and the persistent delivery queue.

Configuration follows the SDK's resolution order: flags, the [tracker]
INI section, AICM_* environment variables, an optional YAML file named
by AICM_CONFIG, then defaults.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "AICostManager API key (or AICM_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&apiBase, "api-base", "", "server origin (or AICM_API_BASE)")
	rootCmd.PersistentFlags().StringVar(&iniPath, "ini", "", "path to the shared INI file (or AICM_INI_PATH)")
	rootCmd.PersistentFlags().StringVar(&deliveryType, "delivery", "", "delivery strategy: immediate, mem_queue, persistent_queue")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// resolveOptions layers flags over the SDK's configuration sources.
func resolveOptions() (*config.Options, error) {
	opts := config.Options{
		APIKey:       apiKey,
		APIBase:      apiBase,
		INIPath:      iniPath,
		DeliveryType: deliveryType,
	}
	if verbose {
		opts.LogLevel = "debug"
		opts.LogFormat = "text"
	}
	return config.Resolve(opts)
}

// sdk bundles the wired SDK components a command needs.
type sdk struct {
	opts    *config.Options
	logger  *logging.Logger
	store   *inistore.Store
	cache   *limits.Cache
	manager *limits.Manager
	tracker *tracker.Tracker
}

// buildSDK wires the full stack from resolved options.
func buildSDK(opts *config.Options) (*sdk, error) {
	logger, err := logging.New(logging.Config{
		Level:  opts.LogLevel,
		Format: opts.LogFormat,
	})
	if err != nil {
		return nil, err
	}

	store := inistore.New(opts.INIPath)
	cache, err := limits.NewCache(limits.CacheConfig{
		Store:  store,
		Policy: limits.FailurePolicy(opts.LimitsFailurePolicy),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	client := dispatch.New(dispatch.Config{
		APIKey:    opts.APIKey,
		Timeout:   opts.Timeout,
		LogBodies: opts.LogBodies,
		Logger:    logger,
	})
	manager, err := limits.NewManager(limits.ManagerConfig{
		Client:  client,
		Cache:   cache,
		APIBase: opts.APIBase,
		APIURL:  opts.APIURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	typ, err := delivery.ParseType(opts.DeliveryType)
	if err != nil {
		return nil, err
	}
	dlv, err := delivery.New(typ, delivery.Config{
		APIKey:        opts.APIKey,
		APIBase:       opts.APIBase,
		APIURL:        opts.APIURL,
		Timeout:       opts.Timeout,
		MaxAttempts:   opts.MaxAttempts,
		MaxRetries:    opts.MaxRetries,
		PollInterval:  opts.PollInterval,
		BatchInterval: opts.BatchInterval,
		QueueSize:     opts.QueueSize,
		MaxBatchSize:  opts.MaxBatchSize,
		DBPath:        opts.DBPath,
		LogBodies:     opts.LogBodies,
		Cache:         cache,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	trk, err := tracker.New(tracker.Config{
		Delivery:          dlv,
		Cache:             cache,
		APIKeyID:          opts.APIKeyID,
		ClientCustomerKey: opts.ClientCustomerKey,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	return &sdk{
		opts:    opts,
		logger:  logger,
		store:   store,
		cache:   cache,
		manager: manager,
		tracker: trk,
	}, nil
}

// stopTimeout bounds graceful shutdown of the delivery on CLI exit.
const stopTimeout = 30 * time.Second
