package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/gh-run-purge/internal/config"
	"github.com/hochfrequenz/gh-run-purge/internal/gh"
	"github.com/hochfrequenz/gh-run-purge/internal/logging"
	"github.com/hochfrequenz/gh-run-purge/internal/notify"
	"github.com/hochfrequenz/gh-run-purge/internal/purge"
	"github.com/hochfrequenz/gh-run-purge/internal/ratelimit"
	"github.com/hochfrequenz/gh-run-purge/internal/report"
	"github.com/hochfrequenz/gh-run-purge/internal/schedule"
	"github.com/hochfrequenz/gh-run-purge/internal/status"
)

var (
	flagStatus      string
	flagRepo        string
	flagBinary      string
	flagConcurrency int
	flagBatchSize   int
	flagThreshold   int64
	flagDryRun      bool
	flagOutput      string
	flagSchedule    string
	flagLogLevel    string
	flagLogFile     string
)

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flagStatus, "status", "s", "completed", "comma-separated statuses to purge (see 'gh-run-purge statuses')")
	f.BoolVar(&flagDryRun, "dry-run", false, "list the first batch of matching runs without deleting")
	f.StringVarP(&flagOutput, "output", "o", "text", "summary format: text, json or yaml")
	f.StringVar(&flagSchedule, "schedule", "", "cron expression; keep running and purge at every tick")
	f.IntVar(&flagConcurrency, "concurrency", 0, "parallel deletions per batch")
	f.IntVar(&flagBatchSize, "batch-size", 0, "run ids requested per status and batch")
	f.Int64Var(&flagThreshold, "threshold", 0, "hibernate when the remaining quota drops to this value")

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagRepo, "repo", "R", "", "repository as OWNER/REPO (default: current directory)")
	pf.StringVar(&flagBinary, "gh", "", "path to the gh binary")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flagLogFile, "log-file", "", "also write logs to this rotating file")

	// statuses command
	statusesCmd := &cobra.Command{
		Use:   "statuses",
		Short: "List the statuses accepted by --status",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), status.Help())
		},
	}
	rootCmd.AddCommand(statusesCmd)

	// quota command
	quotaCmd := &cobra.Command{
		Use:   "quota",
		Short: "Show the remaining API quota",
		Args:  cobra.NoArgs,
		RunE:  runQuota,
	}
	rootCmd.AddCommand(quotaCmd)

	// config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}
	rootCmd.AddCommand(configCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	return cfg, cfg.Validate()
}

// applyFlags overrides file values with flags given on the command line
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("status") {
		cfg.Purge.Statuses = flagStatus
	}
	if changed("concurrency") {
		cfg.Purge.Concurrency = flagConcurrency
	}
	if changed("batch-size") {
		cfg.Purge.BatchSize = flagBatchSize
	}
	if changed("threshold") {
		cfg.Purge.Threshold = flagThreshold
	}
	if changed("schedule") {
		cfg.Schedule.Cron = flagSchedule
	}
	if changed("repo") {
		cfg.GitHub.Repo = flagRepo
	}
	if changed("gh") {
		cfg.GitHub.Binary = config.ExpandPath(flagBinary)
	}
	if changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if changed("log-file") {
		cfg.Log.File = config.ExpandPath(flagLogFile)
	}
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// reject bad statuses before touching gh
	if _, err := status.ParseAndValidate(cfg.Purge.Statuses); err != nil {
		return err
	}
	format, err := report.ParseFormat(flagOutput)
	if err != nil {
		return err
	}

	closeLog, err := logging.Setup(cfg.Log.Level, cfg.Log.File, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	executor := gh.NewExecutor(cfg.GitHub.Binary, cfg.GitHub.Repo)
	if err := executor.Available(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &purgeJob{
		cfg:      cfg,
		exec:     executor,
		notifier: buildNotifier(cfg),
		format:   format,
		out:      cmd.OutOrStdout(),
		dryRun:   flagDryRun,
	}

	if cfg.Schedule.Cron == "" {
		return p.run(ctx)
	}

	runner, err := schedule.NewRunner(cfg.Schedule.Cron, p.run, log.NewEntry(log.StandardLogger()))
	if err != nil {
		return err
	}
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infof("Scheduler stopped after %d purges", runner.Runs())
	return nil
}

// purgeJob runs one purge and reports it
type purgeJob struct {
	cfg      *config.Config
	exec     purge.Executor
	notifier notify.Notifier
	format   report.Format
	out      io.Writer
	dryRun   bool
	options  []purge.Option
}

func (p *purgeJob) run(ctx context.Context) error {
	opts := purge.OptionsFromConfig(p.cfg.Purge)
	opts.DryRun = p.dryRun

	o := purge.New(p.exec, opts, p.options...)
	sum, runErr := o.Run(ctx)

	if err := report.Write(p.out, sum, p.format); err != nil {
		log.WithError(err).Error("Failed to write summary")
	}
	// a validation failure never started a purge
	if !errors.Is(runErr, status.ErrInvalidStatus) && !errors.Is(runErr, status.ErrEmptyStatus) {
		if err := p.notifier.Send(notify.FromSummary(sum, runErr, p.cfg.GitHub.Repo)); err != nil {
			log.WithError(err).Warn("Failed to send notification")
		}
	}
	return runErr
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

func runQuota(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	executor := gh.NewExecutor(cfg.GitHub.Binary, cfg.GitHub.Repo)
	raw, err := executor.QueryQuota(cmd.Context())
	if err != nil {
		return err
	}
	snap, err := ratelimit.ParseQuota(raw)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Remaining: %s\n", humanize.Comma(snap.Remaining))
	fmt.Fprintf(out, "Resets:    %s (%s)\n", humanize.Time(snap.ResetAt), snap.ResetAt.Format("15:04:05"))
	if ratelimit.ShouldHibernate(snap.Remaining, cfg.Purge.Threshold) {
		fmt.Fprintf(out, "A purge would hibernate now (threshold %d)\n", cfg.Purge.Threshold)
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
