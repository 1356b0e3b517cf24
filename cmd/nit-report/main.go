// Command nit-report reads a list of NITs from a CSV file, consults a
// registry service for each of them and writes JSON reports with the
// successful lookups and the failed ones.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/afip-tools/registry-client/internal/config"
	"github.com/afip-tools/registry-client/internal/input"
	"github.com/afip-tools/registry-client/pkg/client"
	"github.com/afip-tools/registry-client/pkg/logging"
	"github.com/afip-tools/registry-client/pkg/report"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		inputPath  string
		column     string
		service    string
		envFile    string
		configFile string
		pretty     bool
	)

	pflag.StringVarP(&inputPath, "input", "i", "", "CSV file with the identifiers to consult")
	pflag.StringVar(&column, "column", input.DefaultColumn, "header name of the identifier column")
	pflag.StringVarP(&service, "service", "s", "inscription", "registry service to consult")
	pflag.StringVar(&envFile, "env-file", ".env", "environment file to load")
	pflag.StringVarP(&configFile, "config", "c", "", "optional YAML configuration file")
	pflag.BoolVar(&pretty, "pretty", false, "human readable console logging")
	pflag.Parse()

	// Missing env file is fine, the environment may already be set.
	_ = godotenv.Load(envFile)

	cfg := config.Load()
	if configFile != "" {
		if err := cfg.ApplyFile(configFile); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: pretty || cfg.LogPretty,
	})

	if inputPath == "" {
		inputPath = cfg.CSVFilePath
	}
	if inputPath == "" {
		return fmt.Errorf("no input file given, use --input or CSV_FILE_PATH")
	}

	nits, err := input.ReadNITs(inputPath, column)
	if err != nil {
		return err
	}
	if len(nits) == 0 {
		logger.Warn().Str("file", inputPath).Msg("No identifiers found in input file")
		return nil
	}
	logger.Info().Int("count", len(nits)).Str("service", service).Msg("Starting registry consultation")

	c, err := client.New(cfg.ClientConfig())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, errRecords, err := c.FetchDataService(ctx, service, nits)
	if err != nil {
		logger.Error().Err(err).
			Int("retrieved", len(result)).
			Msg("Consultation aborted, saving partial results")
	}

	if len(result) > 0 {
		if _, err := report.Save(cfg.ReportDir, len(nits), "success", result); err != nil {
			return err
		}
	}
	if len(errRecords) > 0 {
		if _, err := report.Save(cfg.ReportDir, len(nits), "errors", errRecords); err != nil {
			return err
		}
	}

	logger.Info().
		Int("total", len(nits)).
		Int("retrieved", len(result)).
		Int("failed", len(errRecords)).
		Msg("Consultation finished")

	return err
}
