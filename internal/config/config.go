// Package config loads pipelined's runtime configuration: how many jobs
// run concurrently, how generously node channels are buffered, and where
// to find the item-db, object store, and job queue backends. The loading
// pattern - viper, a config file discovered via $HOME, environment
// override, sane defaults - follows the teacher CLI's initConfig.
package config

import (
	"fmt"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the fully-resolved runtime configuration for one pipelined
// process (spec.md §5).
type Config struct {
	// MaxRunningJobs bounds the L5b runner's slot array.
	MaxRunningJobs int `mapstructure:"max_running_jobs"`
	// StreamChannelCapacity bounds every data-edge mailbox's depth.
	StreamChannelCapacity int `mapstructure:"stream_channel_capacity"`
	// BlobFragmentSize bounds, in bytes, one byte-stream fragment.
	BlobFragmentSize int `mapstructure:"blob_fragment_size"`
	// AsyncPollAwaitMS is how long the runner sleeps after a job-queue
	// poll that found no job or failed. While every slot is busy the
	// runner does not poll; it waits for a slot to free up.
	AsyncPollAwaitMS int `mapstructure:"async_poll_await_ms"`

	// ItemDBDSN is the lib/pq connection string for the item database.
	ItemDBDSN string `mapstructure:"item_db_dsn"`
	// ObjectStoreBucket names an S3 bucket. It is loaded but not read by
	// pipelined; WriteBlob nodes take their bucket as a parameter.
	ObjectStoreBucket string `mapstructure:"object_store_bucket"`
	// JobQueueRedisAddr is the redis address backing the job queue.
	JobQueueRedisAddr string `mapstructure:"job_queue_redis_addr"`

	LogLevel string `mapstructure:"log_level"`
}

func defaults() {
	viper.SetDefault("max_running_jobs", 8)
	viper.SetDefault("stream_channel_capacity", 4)
	viper.SetDefault("blob_fragment_size", 1<<20)
	viper.SetDefault("async_poll_await_ms", 500)
	viper.SetDefault("log_level", "info")
}

// Load reads configuration from cfgFile if set, else from
// $HOME/.pipelined.yaml if present, with every key overridable by a
// PIPELINED_-prefixed environment variable.
func Load(cfgFile string) (*Config, error) {
	defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("config: resolving home directory: %w", err)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".pipelined")
	}

	viper.SetEnvPrefix("PIPELINED")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	return &cfg, nil
}
