// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package main provides the command-line interface and the main entry point for the Playground Tester.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/formatters"
	"github.com/petmal/playgroundtester/providers"
	"github.com/petmal/playgroundtester/registry"
	"github.com/petmal/playgroundtester/runners"
	"github.com/petmal/playgroundtester/server"
	"github.com/petmal/playgroundtester/telemetry"
	"github.com/petmal/playgroundtester/version"
)

const (
	serveCommandName           = "serve"
	runCommandName             = "run"
	listCommandName            = "list"
	helpCommandName            = "help"
	versionCommandName         = "version"
	unsetFlagValue             = "\x00"
	exitCodeBadCommand         = 2
	exitCodeFinishedWithErrors = 3
	defaultConfigFile          = "config.yaml"
	defaultEnvFile             = ".env"
)

var (
	commandDoc = map[string]string{
		serveCommandName:   "start the HTTP testing service",
		runCommandName:     "run the selected models and tests once and print the results",
		listCommandName:    "list the available models and tests",
		helpCommandName:    "show help",
		versionCommandName: "show version",
	}
)

var (
	logFormatter        = formatters.NewLogFormatter()
	summaryLogFormatter = formatters.NewSummaryLogFormatter()
	jsonFormatter       = formatters.NewJSONFormatter()
)

var (
	configFilePath = flag.String("config", defaultConfigFile, "configuration file path")
	envFilePath    = flag.String("env", defaultEnvFile, "environment file path; ignored if missing")
	testSourcePath = flag.String("test-source", unsetFlagValue, "test case definitions file path; blank = built-in tests")
	modelIDs       = flag.String("models", "", "comma-separated model ids to run")
	testKeys       = flag.String("tests", "", "comma-separated test keys to run; blank = all tests")
	confirmerModel = flag.String("confirmer", "", "confirmer model id; blank = configured default")
	printJSON      = flag.Bool("json", false, "print the raw result as JSON")
	logFilePath    = flag.String("log", unsetFlagValue, "log file path; append if exists; blank = stdout only")
	verbose        = flag.Bool("verbose", false, "enable detailed logging")
	debug          = flag.Bool("debug", false, "enable low-level debug logging")
)

var stderr = zerolog.New(zerolog.NewConsoleWriter(
	func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
		w.TimeFormat = time.DateTime
		w.NoColor = true
	},
)).Level(zerolog.TraceLevel).With().Timestamp().Logger()

func init() {
	flag.Usage = func() {
		w := flag.CommandLine.Output()
		fmt.Fprintf(w, "Usage: %s [options] [command]\n", os.Args[0])
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Commands:")
		printCommandHelp(w, serveCommandName, runCommandName, listCommandName, helpCommandName, versionCommandName)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Options:")
		flag.PrintDefaults()
	}
}

func printCommandHelp(out io.Writer, commands ...string) {
	for _, cmdName := range commands {
		formatCommandHelp(out, cmdName, commandDoc[cmdName])
	}
}

func formatCommandHelp(out io.Writer, name string, usage string) {
	fmt.Fprintf(out, "  %s\n", name)
	fmt.Fprintf(out, "        %s\n", usage)
}

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, arg := range flag.Args() {
		switch arg {
		case helpCommandName:
			printHelp(os.Stdout)
			return
		case versionCommandName:
			printVersion(os.Stdout)
			return
		case serveCommandName:
			if err := serve(ctx); err != nil {
				stderr.Fatal().Err(err).Send()
			}
			return
		case listCommandName:
			if err := list(ctx, os.Stdout); err != nil {
				stderr.Fatal().Err(err).Send()
			}
			return
		case runCommandName:
			if ok, err := run(ctx, os.Stdout); err != nil {
				stderr.Fatal().Err(err).Send()
			} else if !ok {
				stop()
				os.Exit(exitCodeFinishedWithErrors)
			}
			return
		}
	}
	printHelp(nil) // os.Stderr
	os.Exit(exitCodeBadCommand)
}

// application holds everything the commands share.
type application struct {
	cfg      *config.Config
	registry *registry.Registry
	logger   zerolog.Logger
	closers  []io.Closer
}

func (a *application) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
}

func (a *application) newOrchestrator(opts ...runners.Option) *runners.Orchestrator {
	return runners.NewOrchestrator(a.registry, a.cfg.Config.GetEnabledProviders(), a.cfg.Config.Run,
		providers.NewProvider, runners.NewZerologLogger(a.logger), opts...)
}

func setup(ctx context.Context, out io.Writer) (app *application, err error) {
	configPath := filepath.Clean(*configFilePath)
	configDir, err := getConfigDirectory(configPath)
	if err != nil {
		return
	}

	if err = config.LoadEnvFile(*envFilePath); err != nil {
		return
	}

	fmt.Fprintf(out, "Loading configuration from file: %s\n", configPath)
	cfg, err := config.LoadConfigFromFile(ctx, configPath)
	if err != nil {
		return
	}

	var tests *config.Tests
	if testsFile := config.CleanIfNotBlank(getFlagValueIfSet(testSourcePath, config.MakeAbs(configDir, cfg.Config.Run.TestSource))); config.IsNotBlank(testsFile) {
		fmt.Fprintf(out, "Loading tests from file: %s\n", testsFile)
		tests, err = config.LoadTestsFromFile(ctx, testsFile)
	} else {
		tests, err = config.LoadDefaultTests()
	}
	if err != nil {
		return
	}

	app = &application{cfg: cfg}

	// Configure logger.
	logWriters := []io.Writer{zerolog.NewConsoleWriter(
		func(w *zerolog.ConsoleWriter) {
			w.Out = out
			w.TimeFormat = time.DateTime
			w.NoColor = out != os.Stdout
		},
	)}
	if fp, logPath, err := openLogFile(getFlagValueIfSet(logFilePath, config.MakeAbs(configDir, cfg.Config.LogFile))); err != nil {
		return nil, err
	} else if fp != nil {
		fmt.Fprintf(out, "Log messages will be saved to: %s\n", logPath)
		app.closers = append(app.closers, fp)
		logWriters = append(logWriters, zerolog.NewConsoleWriter(
			func(w *zerolog.ConsoleWriter) {
				w.Out = fp
				w.TimeFormat = time.DateTime
				w.NoColor = true
			},
		)) // format the file output as plain-text without color codes
	}
	level := getEnabledLogLevel()
	if level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}
	app.logger = zerolog.New(zerolog.MultiLevelWriter(logWriters...)).Level(level).With().Timestamp().Logger()

	app.registry = registry.New(ctx, runners.NewZerologLogger(app.logger), cfg.Config.Models, cfg.Config.GetEnabledProviders(), tests.TestConfig.GetEnabledTests())
	return app, nil
}

func serve(ctx context.Context) error {
	app, err := setup(ctx, os.Stdout)
	if err != nil {
		return err
	}
	defer app.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, app.cfg.Config.Telemetry, version.ServiceName, version.GetVersion())
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			app.logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orchestrator := app.newOrchestrator(runners.WithMetrics(runners.NewMetrics(metricsRegistry)))
	defer orchestrator.Close(context.Background())

	app.logger.Info().
		Int("models", len(app.registry.ListModels())).
		Int("tests", len(app.registry.ListTestKeys())).
		Msgf("%s %s", version.ServiceName, version.GetVersion())
	return server.New(app.cfg.Config.Server, app.registry, orchestrator, metricsRegistry, app.logger).Start(ctx)
}

func run(ctx context.Context, out io.Writer) (ok bool, err error) {
	app, err := setup(ctx, out)
	if err != nil {
		return
	}
	defer app.Close()

	request := runners.Request{
		Models:         splitList(*modelIDs),
		Tests:          splitList(*testKeys),
		ConfirmerModel: *confirmerModel,
	}
	if len(request.Tests) == 0 {
		request.Tests = app.registry.ListTestKeys()
	}

	orchestrator := app.newOrchestrator()
	defer orchestrator.Close(ctx)

	result, err := orchestrator.Run(ctx, request) // blocking call
	if err != nil {
		return
	}

	pairs, succeeded := result.Count()
	ok = !logResults(result, out)
	if isEnabled(printJSON) {
		if err := jsonFormatter.Write(result, out); err != nil {
			stderr.Warn().Err(err).Msg("failed to print results")
			ok = false
		}
	}
	return ok && pairs == succeeded, nil
}

func list(ctx context.Context, out io.Writer) error {
	app, err := setup(ctx, io.Discard)
	if err != nil {
		return err
	}
	defer app.Close()

	tab := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.Debug)
	fmt.Fprintln(tab, "Model ID\tName\tClient\tType\t")
	for _, model := range app.registry.ListModels() {
		fmt.Fprintf(tab, "%s\t%s\t%s\t%s\t\n", model.ID, model.Name, model.Client, model.Type)
	}
	if err := tab.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Tests:")
	for _, key := range app.registry.ListTestKeys() {
		fmt.Fprintf(out, "  %s\n", key)
	}
	return nil
}

func splitList(value string) (items []string) {
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return
}

func isEnabled(value *bool) bool {
	return value != nil && *value
}

func getConfigDirectory(configFilePath string) (string, error) {
	// If the path is not absolute it will be joined with the current working directory.
	absConfigPath, err := filepath.Abs(configFilePath)
	if err != nil {
		return "", err
	}
	return filepath.Dir(absConfigPath), nil
}

func getEnabledLogLevel() zerolog.Level {
	if isEnabled(debug) {
		return zerolog.TraceLevel
	} else if isEnabled(verbose) {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

func getFlagValueIfSet(value *string, defaultValue string) string {
	if (value != nil) && *value != unsetFlagValue {
		return *value
	}
	return defaultValue
}

func printHelp(out io.Writer) {
	flag.CommandLine.SetOutput(out)
	flag.Usage()
}

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "%s %s\n", version.Name, version.GetVersion())
}

func openLogFile(logFilePath string) (logFile *os.File, logPath string, err error) {
	if logPath = config.CleanIfNotBlank(logFilePath); config.IsNotBlank(logPath) {
		if err = os.MkdirAll(filepath.Dir(logPath), os.ModePerm); err != nil {
			return
		}
		logFile, err = os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	}
	return
}

func logResults(result runners.RunResult, out io.Writer) (finishedWithErrors bool) {
	fmt.Fprintln(out)
	if err := summaryLogFormatter.Write(result, out); err != nil {
		stderr.Warn().Err(err).Msg("failed to log summary")
		finishedWithErrors = true
	}
	fmt.Fprintln(out)
	if err := logFormatter.Write(result, out); err != nil {
		stderr.Warn().Err(err).Msg("failed to log results")
		finishedWithErrors = true
	}
	fmt.Fprintln(out)
	return
}
