package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	config "github.com/cochaviz/uupiso/config"
	"github.com/cochaviz/uupiso/internal/logging"
	"github.com/cochaviz/uupiso/internal/request"
	"github.com/cochaviz/uupiso/internal/setup"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	setup.SetLogger(logger.With("component", "setup"))

	logLevel := defaultLogLevel

	root := &cobra.Command{
		Use:           "uupiso",
		Short:         "Resolve Windows builds on UUP dump and turn them into ISO images",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	root.AddCommand(
		newResolveCommand(logger),
		newBuildCommand(logger),
		newTargetsCommand(),
		newLanguagesCommand(),
	)
	return root
}

// requestFlags are shared by resolve and build.
type requestFlags struct {
	arch        string
	edition     string
	lang        string
	apiURL      string
	concurrency int
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.arch, "arch", "x64", "Target architecture (x64, arm64)")
	cmd.Flags().StringVar(&f.edition, "edition", request.ChoicePro, "Edition (pro, core, home, multi)")
	cmd.Flags().StringVar(&f.lang, "lang", "en-us", "Language code, see 'uupiso languages'")
	cmd.Flags().StringVar(&f.apiURL, "api-url", "", "Override the catalog API base URL")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", config.DefaultConcurrency, "Parallel candidate lookups during resolution")
}

func (f *requestFlags) params(target string) request.Params {
	return request.Params{
		Target:       target,
		Architecture: f.arch,
		Edition:      f.edition,
		Language:     f.lang,
	}
}

func targetArg(args []string) (string, error) {
	target := strings.TrimSpace(args[0])
	if target == "" {
		return "", fmt.Errorf("target is required")
	}
	return target, nil
}

func newResolveCommand(logger *slog.Logger) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "resolve <target>",
		Args:  cobra.ExactArgs(1),
		Short: "Select the catalog build for a target and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetArg(args)
			if err != nil {
				return err
			}
			cmdLogger := logger.With("command", "resolve", "target", target)

			selected, err := config.Resolve(cmd.Context(), flags.params(target), config.Options{
				APIBaseURL:  flags.apiURL,
				Concurrency: flags.concurrency,
			}, cmdLogger)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(selected)
		},
	}
	flags.register(cmd)
	return cmd
}

func newBuildCommand(logger *slog.Logger) *cobra.Command {
	var (
		flags         requestFlags
		esd           bool
		drivers       bool
		netfx3        bool
		destDir       string
		workDir       string
		keepWorkDir   bool
		force         bool
		skipToolCheck bool
	)

	cmd := &cobra.Command{
		Use:   "build <target>",
		Args:  cobra.ExactArgs(1),
		Short: "Download, convert and publish an ISO for a target",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetArg(args)
			if err != nil {
				return err
			}
			cmdLogger := logger.With("command", "build", "target", target)

			if !skipToolCheck {
				if err := verifySetup(cmdLogger); err != nil {
					return err
				}
			}

			params := flags.params(target)
			params.ESD = esd
			params.Drivers = drivers
			params.NetFx3 = netfx3

			cmdLogger.Info("starting build", "dest_dir", destDir, "work_dir", workDir)
			result, err := config.BuildISO(cmd.Context(), params, config.Options{
				APIBaseURL:  flags.apiURL,
				Concurrency: flags.concurrency,
				DestDir:     destDir,
				WorkDir:     workDir,
				KeepWorkDir: keepWorkDir,
				Force:       force,
			}, cmdLogger)
			if err != nil {
				return err
			}

			cmdLogger.Info("build completed", "iso", result.Published.ISO, "sha256", result.Metadata.SHA256)
			fmt.Fprintln(cmd.OutOrStdout(), result.Published.ISO)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&esd, "esd", false, "Compress install.wim to install.esd")
	cmd.Flags().BoolVar(&drivers, "drivers", false, "Integrate drivers from the package's Drivers folder")
	cmd.Flags().BoolVar(&netfx3, "netfx3", false, "Enable .NET Framework 3.5")
	cmd.Flags().StringVar(&destDir, "dest", config.DefaultDestDir, "Directory where ISOs are published")
	cmd.Flags().StringVar(&workDir, "work-dir", config.DefaultWorkDir, "Directory for temporary conversion files")
	cmd.Flags().BoolVar(&keepWorkDir, "keep-work-dir", false, "Keep the conversion directory after the run")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an ISO already published under the same name")
	cmd.Flags().BoolVar(&skipToolCheck, "skip-tool-check", false, "Do not check for the conversion tools on PATH")
	return cmd
}

func verifySetup(logger *slog.Logger) error {
	logger = logger.With("action", "verify_setup")
	logger.Info("verifying conversion tools")
	if err := setup.Verify(); err != nil {
		logger.Error("setup verification failed", "error", err)
		logger.Info("install the missing tools or pass --skip-tool-check")
		return err
	}
	return nil
}

func newTargetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "targets [pattern...]",
		Short: "List supported targets, optionally filtered by glob patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := config.ListTargets(args...)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newLanguagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Args:  cobra.NoArgs,
		Short: "List supported language codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, code := range config.ListLanguages() {
				fmt.Fprintln(cmd.OutOrStdout(), code)
			}
			return nil
		},
	}
}
