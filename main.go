package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mongomigrate/mongomigrate/config"
	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/log"
	"github.com/mongomigrate/mongomigrate/migrate"
)

// contextKey is a type for context keys used in this package.
type contextKey string

// configContextKey is the context key for storing *config.Config.
const configContextKey contextKey = "config"

var (
	Version   = "v0.1.0" //nolint:gochecknoglobals
	Platform  = ""       //nolint:gochecknoglobals
	GitCommit = ""       //nolint:gochecknoglobals
	GitBranch = ""       //nolint:gochecknoglobals
	BuildTime = ""       //nolint:gochecknoglobals
)

func buildVersion() string {
	return Version + " " + GitCommit + " " + BuildTime
}

//nolint:gochecknoglobals
var rootCmd = &cobra.Command{
	Use:   "mongomigrate",
	Short: "MongoDB database migration tool",
	Long: "Copies the collections of one MongoDB database into another.\n\n" +
		"Without a subcommand, mongomigrate serves the migration HTTP API.",

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd)
		if err != nil {
			return errors.Wrap(err, "load config")
		}

		logLevel, err := zerolog.ParseLevel(cfg.Log.Level)
		if err != nil {
			logLevel = zerolog.InfoLevel
		}

		lg := log.InitGlobals(logLevel, cfg.Log.JSON, cfg.Log.NoColor)
		ctx := lg.WithContext(context.Background())
		ctx = context.WithValue(ctx, configContextKey, cfg)
		cmd.SetContext(ctx)

		config.WarnDeprecatedEnvVars(ctx)

		return nil
	},

	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

		log.Ctx(cmd.Context()).Info("mongomigrate " + buildVersion())

		return runServer(cmd.Context(), cfg)
	},
}

//nolint:gochecknoglobals
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		info := fmt.Sprintf("Version:   %s\nPlatform:  %s\nGitCommit: "+
			"%s\nGitBranch: %s\nBuildTime: %s\nGoVersion: %s",
			Version,
			Platform,
			GitCommit,
			GitBranch,
			BuildTime,
			runtime.Version(),
		)

		cmd.Println(info)
	},
}

//nolint:gochecknoglobals
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate all collections from the source database to the target database",
	Long: "Migrates every collection of the source database into the target database.\n\n" +
		"Modes:\n" +
		"  complete  drop non-empty target collections and copy all documents (requires --yes)\n" +
		"  newOnly   insert only documents whose _id is missing in the target",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

		err := config.Validate(cfg)
		if err != nil {
			return errors.Wrap(err, "validate options")
		}

		modeName := cfg.Mode
		if modeName == "" {
			modeName = config.DefaultMode
		}

		mode, err := migrate.ParseMode(modeName)
		if err != nil {
			return err //nolint:wrapcheck
		}

		if mode == migrate.ModeComplete && !cfg.Yes {
			return errors.New("complete mode drops non-empty target collections; " +
				"rerun with --yes to confirm or use --mode=newOnly")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		job := migrate.NewJob(migrate.MongoOpener(cfg), migrate.LogSink(log.New("migrate")))

		res, err := job.Run(ctx, migrate.Options{
			SourceURI:          cfg.Source,
			TargetURI:          cfg.Target,
			Mode:               modeName,
			IncludeCollections: cfg.IncludeCollections,
			ExcludeCollections: cfg.ExcludeCollections,
		})
		if res == nil {
			return err //nolint:wrapcheck
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			printJSON(cmd.OutOrStdout(), res)
		} else {
			printSummary(cmd.OutOrStdout(), res)
		}

		if err != nil {
			return err //nolint:wrapcheck
		}

		if res.FailedCollections != 0 {
			return errors.Errorf("%d of %d collections failed", res.FailedCollections, res.TotalCollections)
		}

		return nil
	},
}

//nolint:gochecknoglobals
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the source and target connections",
	Long: "Checks that the source database is reachable and that the target database accepts " +
		"insert, find, update and delete on the " + migrate.ProbeCollection + " collection.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

		err := config.Validate(cfg)
		if err != nil {
			return errors.Wrap(err, "validate options")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tester := migrate.NewTester(migrate.MongoOpener(cfg))
		rep := tester.TestConnections(ctx, cfg.Source, cfg.Target, migrate.LogSink(log.New("test")))

		printJSON(cmd.OutOrStdout(), rep)

		if !rep.Success {
			return errors.New("connection test failed")
		}

		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output log in JSON format")
	rootCmd.PersistentFlags().Bool("log-no-color", false, "Disable log color")

	rootCmd.PersistentFlags().Int("port", config.DefaultServerPort, "Port number")

	rootCmd.PersistentFlags().String("mongodb-server-selection-timeout",
		config.DefaultServerSelectionTimeout.String(), "Timeout for MongoDB server selection")
	rootCmd.PersistentFlags().String("mongodb-connect-timeout",
		config.DefaultConnectTimeout.String(), "Timeout for establishing a MongoDB connection")
	rootCmd.PersistentFlags().String("mongodb-operation-timeout",
		config.DefaultOperationTimeout.String(), "Timeout for MongoDB operations (e.g., 30s, 5m)")
	rootCmd.PersistentFlags().StringSlice("mongodb-compressors", nil, "")
	rootCmd.PersistentFlags().MarkHidden("mongodb-compressors") //nolint:errcheck

	for _, cmd := range []*cobra.Command{migrateCmd, testCmd} {
		cmd.Flags().String("source", "", "MongoDB connection string for the source database")
		cmd.Flags().String("target", "", "MongoDB connection string for the target database")
	}

	migrateCmd.Flags().String("mode", config.DefaultMode, "Migration mode: complete or newOnly")
	migrateCmd.Flags().Bool("yes", false, "Confirm dropping non-empty target collections in complete mode")
	migrateCmd.Flags().Bool("json", false, "Print the result as JSON")
	migrateCmd.Flags().StringSlice("include-collections", nil,
		"Collections to migrate (e.g. users,orders,logs_*)")
	migrateCmd.Flags().StringSlice("exclude-collections", nil,
		"Collections to skip (e.g. audit_*)")

	rootCmd.AddCommand(
		versionCmd,
		migrateCmd,
		testCmd,
	)

	err := rootCmd.Execute()
	if err != nil {
		zerolog.Ctx(context.Background()).Fatal().Err(err).Msg("")
	}
}

func printJSON(w io.Writer, v any) {
	j := json.NewEncoder(w)
	j.SetIndent("", "  ")
	_ = j.Encode(v)
}

func printSummary(w io.Writer, res *migrate.JobResult) {
	ev := res.CompletedEvent()
	elapsed := res.FinishTime.Sub(res.StartTime).Round(time.Millisecond)

	fmt.Fprintf(w, "%s (%s mode, %s)\n", ev.Message, res.Mode, elapsed)

	if res.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", res.Error)
	}

	fmt.Fprintf(w, "  collections: %d succeeded, %d failed, %d total\n",
		res.SuccessfulCollections, res.FailedCollections, res.TotalCollections)
	fmt.Fprintf(w, "  documents:   %s migrated of %s\n",
		humanize.Comma(res.MigratedDocuments), humanize.Comma(res.TotalDocuments))

	if res.Mode == migrate.ModeIncremental {
		fmt.Fprintf(w, "  new:         %s\n", humanize.Comma(res.NewDocuments))
	}

	for _, c := range res.Collections {
		if c.Success {
			fmt.Fprintf(w, "  - %s: %s/%s\n", c.Collection,
				humanize.Comma(c.MigratedCount), humanize.Comma(c.SourceCount))
		} else {
			fmt.Fprintf(w, "  - %s: FAILED: %s\n", c.Collection, c.Error)
		}
	}
}
