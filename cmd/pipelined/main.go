// Command pipelined runs the multi-job pipeline runner: it polls a job
// queue, builds and executes pipeline specs against an item database and
// object store, and reports terminal states back to the queue.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/copperd/piper/adapters/itemdb"
	"github.com/copperd/piper/adapters/jobqueue"
	"github.com/copperd/piper/adapters/objectstore"
	"github.com/copperd/piper/internal/config"
	"github.com/copperd/piper/nodes"
	"github.com/copperd/piper/piper"
	"github.com/copperd/piper/runner"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pipelined",
	Short: "Run the Copper pipeline job runner",
	RunE:  run,
}

var validateCmd = &cobra.Command{
	Use:   "validate [spec.yaml]",
	Short: "Parse and validate a pipeline spec without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  validate,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pipelined.yaml)")
	rootCmd.AddCommand(validateCmd)
}

// validate loads a pipeline spec from its on-disk YAML form and runs it
// through the same builder the runner uses before ever scheduling a job,
// so operators can catch a bad spec file before it reaches the queue.
func validate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("pipelined: reading spec file: %w", err)
	}

	spec, err := piper.LoadSpecYAML(data)
	if err != nil {
		return err
	}

	dispatcher := piper.NewDispatcher()
	if err := nodes.RegisterBuiltins(dispatcher); err != nil {
		return fmt.Errorf("pipelined: registering node types: %w", err)
	}

	ctx := piper.NewJobContext("validate", "validate", nil, nil, 0, 0)
	if _, err := piper.Build(spec, ctx, dispatcher); err != nil {
		return fmt.Errorf("pipelined: invalid spec: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", spec.Name)
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.JSONFormatter{})
	entry := logrus.NewEntry(log)

	db, err := sql.Open("postgres", cfg.ItemDBDSN)
	if err != nil {
		return fmt.Errorf("pipelined: opening item database: %w", err)
	}
	defer db.Close()
	itemDBOpener := itemdb.NewPostgres(db)

	sess, err := session.NewSession(aws.NewConfig())
	if err != nil {
		return fmt.Errorf("pipelined: building AWS session: %w", err)
	}
	store := objectstore.NewS3(sess)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.JobQueueRedisAddr})
	queue := jobqueue.NewRedis(redisClient, "copper")

	dispatcher := piper.NewDispatcher()
	if err := nodes.RegisterBuiltins(dispatcher); err != nil {
		return fmt.Errorf("pipelined: registering node types: %w", err)
	}

	r := runner.New(runner.Config{
		MaxRunningJobs:        cfg.MaxRunningJobs,
		StreamChannelCapacity: cfg.StreamChannelCapacity,
		BlobFragmentSize:      cfg.BlobFragmentSize,
		AsyncPollAwait:        time.Duration(cfg.AsyncPollAwaitMS) * time.Millisecond,
	}, dispatcher, queue, store, itemDBOpener, entry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Error("metrics server exited")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entry.Info("pipelined starting")
	err = r.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	if err != nil && ctx.Err() == nil {
		return err
	}
	entry.Info("pipelined stopped")
	return nil
}
