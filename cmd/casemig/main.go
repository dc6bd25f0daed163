package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gitlab.com/tozd/go/errors"

	"github.com/chmdznr/case-attachment-migrator/internal/db"
	"github.com/chmdznr/case-attachment-migrator/internal/migrate"
	"github.com/chmdznr/case-attachment-migrator/internal/store"
	"github.com/chmdznr/case-attachment-migrator/pkg/utils"
	"github.com/chmdznr/case-attachment-migrator/pkg/version"
)

// exitReportNotEmpty is returned by migrate when some cases could not be migrated.
const exitReportNotEmpty = 2

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	projectFlag := &cli.StringFlag{
		Name:     "project",
		Usage:    "Project name",
		Required: true,
	}

	migrationFlags := []cli.Flag{
		projectFlag,
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of cases migrated concurrently",
			Value: 1,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Timeout for each remote call",
			Value: 2 * time.Minute,
		},
		&cli.BoolFlag{
			Name:  "progress",
			Usage: "Show a progress bar",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug logging",
		},
	}

	createFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     "name",
			Usage:    "Project name",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "file",
			Usage: "YAML project definition; flags override its values",
		},
		&cli.StringFlag{
			Name:  "cross-reference-field",
			Usage: "Source case field holding the destination case id",
			Value: "Sales_Instance_Case_Id__c",
		},
		&cli.StringSliceFlag{
			Name:  "case-id",
			Usage: "Source case id to migrate (repeatable); all cases when omitted",
		},
		&cli.Int64Flag{
			Name:  "min-content-size",
			Usage: "Only migrate documents larger than this many bytes",
			Value: 500,
		},
		&cli.StringFlag{
			Name:  "staging-dir",
			Usage: "Directory for staged files",
			Value: ".",
		},
		&cli.StringFlag{Name: "archive-endpoint", Usage: "MinIO endpoint for archive copies"},
		&cli.StringFlag{Name: "archive-bucket", Usage: "MinIO bucket for archive copies"},
		&cli.StringFlag{Name: "archive-folder", Usage: "Folder inside the archive bucket"},
		&cli.StringFlag{Name: "archive-access-key", Usage: "MinIO access key", EnvVars: []string{"CASEMIG_ARCHIVE_ACCESS_KEY"}},
		&cli.StringFlag{Name: "archive-secret-key", Usage: "MinIO secret key", EnvVars: []string{"CASEMIG_ARCHIVE_SECRET_KEY"}},
		&cli.BoolFlag{Name: "archive-insecure", Usage: "Disable TLS for the archive endpoint"},
	}
	createFlags = append(createFlags, endpointFlags("source", "Source store")...)
	createFlags = append(createFlags, endpointFlags("destination", "Destination store")...)

	return &cli.App{
		Name:                 "casemig",
		Usage:                "Migrate case file attachments between record stores",
		Version:              version.Version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:   "create",
				Usage:  "Create a new migration project",
				Flags:  createFlags,
				Action: createProject,
			},
			{
				Name:  "migrate",
				Usage: "Migrate the files of every matching case",
				Flags: append(migrationFlags, &cli.BoolFlag{
					Name:  "dry-run",
					Usage: "Only print what would be transferred",
				}),
				Action: func(c *cli.Context) error {
					return runMigration(c, c.Bool("dry-run"))
				},
			},
			{
				Name:  "plan",
				Usage: "Print the files that would be transferred",
				Flags: migrationFlags,
				Action: func(c *cli.Context) error {
					return runMigration(c, true)
				},
			},
			{
				Name:   "status",
				Usage:  "Show project status",
				Flags:  []cli.Flag{projectFlag},
				Action: showStatus,
			},
			{
				Name:  "report",
				Usage: "Print the failures of a run",
				Flags: []cli.Flag{
					projectFlag,
					&cli.StringFlag{
						Name:  "run",
						Usage: "Run id; the latest run when omitted",
					},
				},
				Action: showReport,
			},
		},
	}
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

// createProject stores a new project definition in the project database.
//
// Values come from --file (YAML) when given, overlaid with any flags set on
// the command line. Secrets may be supplied through CASEMIG_* environment
// variables instead of flags.
func createProject(c *cli.Context) error {
	project, err := projectFromContext(c)
	if err != nil {
		return err
	}

	database, err := db.New(project.Name)
	if err != nil {
		return errors.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.CreateProject(project); err != nil {
		return errors.Errorf("failed to create project: %w", err)
	}

	fmt.Printf("Project '%s' created successfully\n", project.Name)
	return nil
}

// runMigration logs into both stores and migrates, or only plans, every case
// selected by the project filter.
func runMigration(c *cli.Context, dryRun bool) error {
	projectName := c.String("project")

	database, err := db.New(projectName)
	if err != nil {
		return errors.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	project, err := database.GetProject(projectName)
	if err != nil {
		return errors.Errorf("failed to get project: %w", err)
	}

	logger := newLogger(c.Bool("debug")).With().Str("project", projectName).Logger()
	ctx := logger.WithContext(c.Context)

	opts := store.Options{Timeout: c.Duration("timeout")}
	source := store.New("source", project.Source, opts)
	destination := store.New("destination", project.Destination, opts)
	if err := source.Login(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("source login failed: %v", err), 1)
	}
	if err := destination.Login(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("destination login failed: %v", err), 1)
	}

	var archiver migrate.Archiver
	if project.Archive.Enabled() && !dryRun {
		minioArchiver, err := migrate.NewMinioArchiver(project.Archive)
		if err != nil {
			return err
		}
		archiver = minioArchiver
	}

	var recorder migrate.Recorder
	if !dryRun {
		recorder = database
	}

	config := migrate.MigratorConfig{
		Workers:      c.Int("workers"),
		StagingDir:   project.StagingDir,
		ShowProgress: c.Bool("progress"),
		DryRun:       dryRun,
		Out:          os.Stdout,
	}

	started := time.Now()
	result, err := migrate.NewMigrator(source, destination, archiver, recorder, &config).Run(ctx, project.Filter)
	if result != nil && !dryRun {
		if saveErr := database.SaveRun(ctx, result.RunID, started, result.Cases, result.TransferredFiles, result.Report.Len()); saveErr != nil {
			logger.Warn().Err(saveErr).Msg("failed to save run summary")
		}
	}
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if dryRun {
		printPlans(result.Plans)
	}
	if !result.Report.Empty() {
		return cli.Exit(fmt.Sprintf("%d case(s) could not be migrated (run %s)", result.Report.Len(), result.RunID), exitReportNotEmpty)
	}

	fmt.Println("Migration completed successfully")
	return nil
}

func printPlans(plans []migrate.PairPlan) {
	for _, p := range plans {
		fmt.Printf("Case %s -> %s: %d file(s) to transfer, %d already present\n",
			p.Source.CaseNumber, p.Destination.CaseNumber, len(p.Transfers), len(p.Present))
		for _, v := range p.Transfers {
			fmt.Printf("  - %s (%s)\n", utils.NormalizeName(v.Title, v.Extension), utils.FormatSize(v.Size))
		}
	}
}

// showStatus shows the ledger totals of the project
func showStatus(c *cli.Context) error {
	projectName := c.String("project")

	database, err := db.New(projectName)
	if err != nil {
		return errors.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	project, err := database.GetProject(projectName)
	if err != nil {
		return errors.Errorf("failed to get project: %w", err)
	}

	stats, err := database.GetStats()
	if err != nil {
		return errors.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Project: %s\n", project.Name)
	fmt.Printf("Source: %s (%s)\n", project.Source.LoginURL, project.Source.Username)
	fmt.Printf("Destination: %s (%s)\n", project.Destination.LoginURL, project.Destination.Username)
	if project.Archive.Enabled() {
		fmt.Printf("Archive: %s/%s/%s\n", project.Archive.Endpoint, project.Archive.Bucket, project.Archive.Folder)
	}
	fmt.Printf("Runs: %d\n", stats.Runs)
	fmt.Printf("Files Uploaded: %d (Size: %s)\n", stats.UploadedFiles, utils.FormatSize(stats.UploadedSize))
	fmt.Printf("Files Already Present: %d\n", stats.SkippedFiles)
	fmt.Printf("Files Failed: %d (Size: %s)\n", stats.FailedFiles, utils.FormatSize(stats.FailedSize))
	fmt.Printf("Unmigrated Case Entries: %d\n", stats.Failures)

	return nil
}

// showReport prints the failure list of a run
func showReport(c *cli.Context) error {
	projectName := c.String("project")

	database, err := db.New(projectName)
	if err != nil {
		return errors.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	runID := c.String("run")
	if runID == "" {
		runID, err = database.LatestRunID()
		if err != nil {
			return errors.Errorf("failed to find latest run: %w", err)
		}
	}

	failures, err := database.GetFailures(runID)
	if err != nil {
		return errors.Errorf("failed to get failures: %w", err)
	}

	fmt.Printf("Run %s: %d unmigrated case(s)\n", runID, len(failures))
	for _, f := range failures {
		fmt.Printf("%s\t%s\n", f.String(), f.Reason)
	}
	return nil
}
