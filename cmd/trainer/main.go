package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/jwalitptl/diagnosis-api/internal/app"
	"github.com/jwalitptl/diagnosis-api/internal/config"
	"github.com/jwalitptl/diagnosis-api/internal/ml"
	"github.com/jwalitptl/diagnosis-api/internal/repository/postgres"
	"github.com/jwalitptl/diagnosis-api/internal/service/catalog"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

var debugSymptoms = []string{"Sốt", "Đau đầu", "Ho"}

type options struct {
	configFile string
	seedFile   string
	retrain    bool
	debug      bool
}

func parseFlags() options {
	var opts options
	pflag.StringVar(&opts.configFile, "config", "", "path to config.yaml")
	pflag.StringVar(&opts.seedFile, "seed", "", "load a catalog YAML file before training")
	pflag.BoolVar(&opts.retrain, "retrain", false, "train a new model even if one is published")
	pflag.BoolVar(&opts.debug, "debug", false, "print catalog and dataset diagnostics")
	pflag.Parse()
	return opts
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()

	if opts.configFile != "" {
		os.Setenv("CONFIG_FILE", opts.configFile)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "Failed to load configuration")
	}
	log := logger.NewLogger(cfg.Log.ToLoggerConfig()).WithComponent("trainer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.ConnectWithRetry(ctx, cfg.Database, cfg.Server.StartupWait, log)
	if err != nil {
		log.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	components, err := app.Build(cfg, db, log, metrics.New("diagnosis"))
	if err != nil {
		log.Fatal(err, "Failed to initialise services")
	}

	if opts.seedFile != "" {
		seed, err := catalog.LoadSeedFile(opts.seedFile)
		if err != nil {
			log.Fatal(err, "Failed to read seed catalog", "file", opts.seedFile)
		}
		result, err := components.Catalog.Seed(ctx, seed)
		if err != nil {
			log.Fatal(err, "Failed to seed catalog")
		}
		fmt.Printf("Seeded catalog: %d symptoms, %d diseases, %d associations created\n",
			result.SymptomsCreated, result.DiseasesCreated, result.AssociationsCreated)
	}

	if opts.debug {
		if err := printDiagnostics(ctx, components, cfg.ML.SymmetricFeatures); err != nil {
			log.Fatal(err, "Failed to collect diagnostics")
		}
	}

	if opts.retrain {
		report, err := components.Classifier.Train(ctx)
		if err != nil {
			log.Fatal(err, "Training failed")
		}
		fmt.Printf("Trained model %s: accuracy %.4f on %d test rows (%s split)\n",
			report.Manifest.Version, report.Manifest.Accuracy, report.Manifest.TestSamples, report.Manifest.SplitStrategy)
		if !report.Persisted {
			fmt.Printf("Model was not saved: %s\n", report.SaveError)
		}
	} else {
		if !components.Classifier.EnsureLoaded(ctx) {
			fmt.Println("No model available")
			os.Exit(1)
		}
		fmt.Printf("Model %s accuracy: %.4f\n", components.Classifier.Version(), components.Classifier.Accuracy(ctx))
	}

	if opts.debug {
		preds := components.Predictions.Predict(ctx, debugSymptoms)
		fmt.Printf("Test prediction for %v:\n", debugSymptoms)
		if len(preds) == 0 {
			fmt.Println("  (no prediction)")
		}
		for _, p := range preds {
			fmt.Printf("  %-32s %.4f\n", p.Disease, p.Probability)
		}
	}
}

func printDiagnostics(ctx context.Context, components *app.Components, binary bool) error {
	stats, err := components.Catalog.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Active symptoms: %d\nActive diseases: %d\nAssociations: %d\n",
		stats.ActiveSymptoms, stats.ActiveDiseases, stats.Associations)

	names := make([]string, 0, len(stats.PerDisease))
	for name := range stats.PerDisease {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DISEASE\tSYMPTOMS")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, stats.PerDisease[name])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	snap, err := components.Catalog.Snapshot(ctx)
	if err != nil {
		return err
	}
	ds, err := ml.BuildDataset(snap.Symptoms, snap.Diseases, snap.Associations, ml.DatasetOptions{BinaryFeatures: binary})
	if err != nil {
		fmt.Printf("Dataset: %v\n", err)
		return nil
	}
	fmt.Printf("Dataset: %d rows x %d features, %d classes\n", ds.Len(), len(ds.SymptomOrder), len(ds.Classes()))
	return nil
}
