// Command monotributo-check consults the inscription service for a list
// of NITs and reports which persons are registered as monotributistas,
// with their general data normalized for display.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"unicode"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/afip-tools/registry-client/internal/config"
	"github.com/afip-tools/registry-client/internal/input"
	"github.com/afip-tools/registry-client/pkg/client"
	"github.com/afip-tools/registry-client/pkg/logging"
	"github.com/afip-tools/registry-client/pkg/normalize"
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
		envFile    string
		configFile string
		pretty     bool
	)

	pflag.StringVarP(&inputPath, "input", "i", "", "CSV file with the identifiers to consult")
	pflag.StringVar(&column, "column", input.DefaultColumn, "header name of the identifier column")
	pflag.StringVar(&envFile, "env-file", ".env", "environment file to load")
	pflag.StringVarP(&configFile, "config", "c", "", "optional YAML configuration file")
	pflag.BoolVar(&pretty, "pretty", false, "human readable console logging")
	pflag.Parse()

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
	logger.Info().Int("count", len(nits)).Msg("Total NITs to consult")
	if len(nits) == 0 {
		return nil
	}

	c, err := client.New(cfg.ClientConfig())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, errRecords, err := c.FetchDataService(ctx, "inscription", nits)
	if err != nil {
		logger.Error().Err(err).
			Int("retrieved", len(result)).
			Msg("Consultation aborted, saving partial results")
	}
	logger.Info().Int("records", len(result)).Int("errors", len(errRecords)).Msg("Data fetched")

	processed := processAllData(result)

	if _, err := report.Save(cfg.ReportDir, len(nits), "personas_con_info", processed); err != nil {
		return err
	}
	if len(errRecords) > 0 {
		if _, err := report.Save(cfg.ReportDir, len(nits), "errors", errRecords); err != nil {
			return err
		}
	}

	printSummary(len(nits), processed, errRecords)

	return err
}

// processPersonData normalizes one person record. It returns nil when the
// record carries neither monotributo nor general regime data.
func processPersonData(person normalize.Record) normalize.Record {
	datosMonotributo := person["datosMonotributo"]
	datosRegimenGeneral := person["datosRegimenGeneral"]
	if datosMonotributo == nil && datosRegimenGeneral == nil {
		return nil
	}

	processed := normalize.Record{
		"es_monotributista": datosMonotributo != nil,
	}

	if generales, ok := person["datosGenerales"].(map[string]any); ok && len(generales) > 0 {
		tipoPersona, _ := generales["tipoPersona"].(string)
		processed["tipo_persona"] = tipoPersona

		if tipoPersona == "FISICA" {
			if nombre := stringField(generales, "nombre"); nombre != "" {
				processed["nombre"] = capitalize(nombre)
			}
			if apellido := stringField(generales, "apellido"); apellido != "" {
				processed["apellido"] = capitalize(apellido)
			}
		} else if razonSocial := stringField(generales, "razonSocial"); razonSocial != "" {
			processed["razon_social"] = strings.ToUpper(razonSocial)
		}
	}

	if datosMonotributo != nil {
		processed["datos_monotributo"] = datosMonotributo
	}
	if datosRegimenGeneral != nil {
		processed["datos_regimen_general"] = datosRegimenGeneral
	}

	return processed
}

// processAllData applies processPersonData to every record, keeping only
// the persons with relevant regime data.
func processAllData(data normalize.Result) normalize.Result {
	out := make(normalize.Result, len(data))
	for id, person := range data {
		if processed := processPersonData(person); processed != nil {
			out[id] = processed
		}
	}
	return out
}

// stringField returns the trimmed string value of a field, converting
// non-string scalars through fmt.
func stringField(m map[string]any, key string) string {
	value, ok := m[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func printSummary(total int, processed normalize.Result, errRecords []normalize.ErrorRecord) {
	monotributistas := 0
	for _, person := range processed {
		if flag, ok := person["es_monotributista"].(bool); ok && flag {
			monotributistas++
		}
	}

	pterm.DefaultSection.Println("Monotributo check")
	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"NITs consulted", strconv.Itoa(total)},
		{"Persons with regime data", strconv.Itoa(len(processed))},
		{"Monotributistas", strconv.Itoa(monotributistas)},
		{"Lookup errors", strconv.Itoa(len(errRecords))},
	}).Render()
}
