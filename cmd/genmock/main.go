// Command genmock writes synthetic forecast snapshot files for demos and
// manual testing. Every model gets one snapshot per cycle; each snapshot holds
// an analysis row (lead day 0) followed by the lead-day forecast series.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out RawData \
//	  -start 20240101 -days 30 \
//	  -models ecmwf,ecmwf-eps,gfs-ens-bc,cmc-ens
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/ensemble-features/internal/domain"
)

const seasonPeriod = 365.25

type options struct {
	out      string
	start    time.Time
	days     int
	cycles   []int
	models   []string
	metric   string
	leadDays int
	seed     uint64
	dropRate float64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "RawData", "output directory")
	start := flag.String("start", "20240101", "first issue date (YYYYMMDD)")
	days := flag.Int("days", 30, "number of issue dates")
	cycles := flag.String("cycles", "00,12", "issue hours per day")
	models := flag.String("models", "ecmwf,ecmwf-eps,gfs-ens-bc,cmc-ens", "models to generate")
	metric := flag.String("metric", "gw_hdd", "degree-day metric")
	leadDays := flag.Int("lead-days", 15, "forecast lead days per snapshot")
	seed := flag.Uint64("seed", 1, "random seed")
	dropRate := flag.Float64("drop", 0, "fraction of snapshots to omit, to exercise alignment")
	flag.Parse()

	opts := options{
		out:      *out,
		days:     *days,
		models:   splitList(*models),
		metric:   *metric,
		leadDays: *leadDays,
		seed:     *seed,
		dropRate: *dropRate,
	}

	var err error
	if opts.start, err = time.Parse("20060102", *start); err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	for _, c := range splitList(*cycles) {
		h, err := strconv.Atoi(c)
		if err != nil || h < 0 || h > 23 {
			return fmt.Errorf("invalid -cycles entry %q", c)
		}
		opts.cycles = append(opts.cycles, h)
	}
	if len(opts.models) == 0 || opts.days < 1 || opts.leadDays < 1 {
		flag.Usage()
		return fmt.Errorf("-models, -days and -lead-days must be non-empty and positive")
	}

	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return err
	}

	counts, err := generate(opts)
	if err != nil {
		return err
	}
	for _, m := range opts.models {
		log.Printf("%s: %d snapshots", m, counts[m])
	}
	log.Printf("wrote %s", opts.out)
	return nil
}

// generate writes every snapshot and returns the count written per model.
func generate(opts options) (map[string]int, error) {
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	counts := make(map[string]int, len(opts.models))

	for d := range opts.days {
		date := opts.start.AddDate(0, 0, d)
		for _, hour := range opts.cycles {
			key := domain.NewRunKey(date, hour)
			for mi, model := range opts.models {
				if opts.dropRate > 0 && rng.Float64() < opts.dropRate {
					continue
				}
				name := fmt.Sprintf("%s.%s.%s.csv", model, key.String(), opts.metric)
				series := forecast(rng, key, float64(mi), opts.leadDays)
				if err := writeSnapshot(filepath.Join(opts.out, name), key, series); err != nil {
					return nil, fmt.Errorf("writing %s: %w", name, err)
				}
				counts[model]++
			}
		}
	}
	return counts, nil
}

// forecast returns the analysis value followed by leadDays forecast values:
// a seasonal degree-day curve plus a model bias and noise that grows with lead.
func forecast(rng *rand.Rand, key domain.RunKey, bias float64, leadDays int) []float64 {
	out := make([]float64, leadDays+1)
	for lead := range out {
		day := key.EffectiveDate().AddDate(0, 0, lead)
		doy := float64(day.YearDay())
		seasonal := 20 + 12*math.Cos(2*math.Pi*(doy-15)/seasonPeriod)
		noise := rng.NormFloat64() * (0.3 + 0.15*float64(lead))
		out[lead] = math.Round((seasonal+0.4*bias+noise)*100) / 100
	}
	return out
}

func writeSnapshot(path string, key domain.RunKey, series []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Date", "Lead", "LeadDay", "Value"}); err != nil {
		return err
	}
	for lead, v := range series {
		row := []string{
			key.EffectiveDate().AddDate(0, 0, lead).Format("2006-01-02"),
			strconv.Itoa(lead * 24),
			strconv.Itoa(lead),
			strconv.FormatFloat(v, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
