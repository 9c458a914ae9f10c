package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/common/version"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/config"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/emissions"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/fetchers"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

const programName = "job-emissions"

type options struct {
	configPath  string
	country     string
	postal      string
	start       string
	end         string
	buckets     int
	joules      float64
	apiKeys     string
	output      string
	showVersion bool
}

func (o *options) addFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Path to a YAML config file overlaying the environment")
	fs.StringVar(&o.country, "country", "", "Country code of the grid the job ran on, defaults to the configured location")
	fs.StringVar(&o.postal, "postal", "", "Postal code of the job, used for regional GB data")
	fs.StringVar(&o.start, "start", "", "Job start time (RFC3339)")
	fs.StringVar(&o.end, "end", "", "Job end time (RFC3339)")
	fs.IntVar(&o.buckets, "buckets", 1, "Number of equal time buckets to resolve intensity for")
	fs.Float64Var(&o.joules, "joules", 0, "Energy consumed by the job in joules")
	fs.StringVar(&o.apiKeys, "api-keys", "", `Provider API keys as JSON, e.g. {"electricitymaps":"key"}`)
	fs.StringVar(&o.output, "output", "text", "Output format: text or json")
	fs.BoolVar(&o.showVersion, "version", false, "Print version information and exit")
}

// window parses the job's start and end times
func (o *options) window() (time.Time, time.Time, error) {
	if o.start == "" || o.end == "" {
		return time.Time{}, time.Time{}, errors.New("both --start and --end are required")
	}
	start, err := time.Parse(time.RFC3339, o.start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, o.end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
	}
	return start, end, nil
}

func main() {
	opts := &options{}
	opts.addFlags(flag.CommandLine)
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if opts.showVersion {
		fmt.Println(version.Print(programName))
		return
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		klog.ErrorS(err, "Failed to load configuration")
		klog.Flush()
		os.Exit(1)
	}

	if err := run(context.Background(), opts, cfg, os.Stdout); err != nil {
		klog.ErrorS(err, "Failed to estimate job emissions")
		klog.Flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, cfg *config.Config, out io.Writer) error {
	if opts.apiKeys != "" {
		keys, err := config.ParseAPIKeys(opts.apiKeys)
		if err != nil {
			return err
		}
		if cfg.API.Keys == nil {
			cfg.API.Keys = make(map[string]string)
		}
		for name, key := range keys {
			cfg.API.Keys[name] = key
		}
	}

	country, postal := cfg.Location.Country, cfg.Location.Postal
	if opts.country != "" {
		country, postal = opts.country, opts.postal
	}
	loc, err := location.NewStatic(country, postal).Resolve(ctx)
	if err != nil {
		return err
	}

	start, end, err := opts.window()
	if err != nil {
		return err
	}
	windows, err := emissions.Buckets(start, end, opts.buckets)
	if err != nil {
		return err
	}

	estimator := emissions.NewEstimator(fetchers.NewDefaultRegistry(&cfg.API))
	estimate, err := estimator.MeteredJobEmissions(ctx, loc, windows, emissions.FixedMeter(opts.joules))
	if err != nil {
		return err
	}

	return writeEstimate(out, opts.output, estimate)
}

func writeEstimate(out io.Writer, format string, estimate emissions.Estimate) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(estimate)
	case "text", "":
		_, err := fmt.Fprintf(out, "location: %s\nbuckets: %d\nmean intensity: %.2f gCO2eq/kWh\nenergy: %.6f kWh\nemissions: %.4f gCO2eq\n",
			estimate.Location, len(estimate.Intensities), estimate.MeanIntensity, estimate.KWh, estimate.Grams)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
