// Command seed loads a YAML fixture of locations and tips into the
// database. Existing locations are reused; tips are inserted pending,
// ready for the next coordinator run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fieldnotes-io/tipline/internal/adapter/observability"
	"github.com/fieldnotes-io/tipline/internal/adapter/repo/postgres"
	"github.com/fieldnotes-io/tipline/internal/config"
	"github.com/fieldnotes-io/tipline/internal/domain"
	"github.com/fieldnotes-io/tipline/pkg/textx"
)

type fixture struct {
	Locations []fixtureLocation `yaml:"locations"`
	Tips      []fixtureTip      `yaml:"tips"`
}

type fixtureLocation struct {
	Name    string   `yaml:"name"`
	Country string   `yaml:"country"`
	Lat     *float64 `yaml:"lat"`
	Lon     *float64 `yaml:"lon"`
}

type fixtureTip struct {
	Location string `yaml:"location"`
	Country  string `yaml:"country"`
	Text     string `yaml:"text"`
	Language string `yaml:"language"`
}

func main() {
	file := flag.String("file", "seed.yaml", "fixture file to load")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	if err := run(context.Background(), cfg, *file); err != nil {
		slog.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("op=seed.read: %w", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return fmt.Errorf("op=seed.parse: %w", err)
	}

	if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return err
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("op=seed.connect: %w", err)
	}
	defer pool.Close()

	tipRepo := postgres.NewTipRepo(pool)
	locRepo := postgres.NewLocationRepo(pool)

	locations := map[string]domain.Location{}
	for _, fl := range fx.Locations {
		loc, err := locRepo.GetOrCreate(ctx, fl.Name, fl.Country, fl.Lat, fl.Lon)
		if err != nil {
			return fmt.Errorf("op=seed.location %s/%s: %w", fl.Name, fl.Country, err)
		}
		locations[locationKey(fl.Name, fl.Country)] = loc
	}
	slog.Info("locations seeded", slog.Int("count", len(locations)))

	inserted := 0
	for _, ft := range fx.Tips {
		loc, ok := locations[locationKey(ft.Location, ft.Country)]
		if !ok {
			// Tips may reference locations not listed in the fixture.
			loc, err = locRepo.GetOrCreate(ctx, ft.Location, ft.Country, nil, nil)
			if err != nil {
				return fmt.Errorf("op=seed.location %s/%s: %w", ft.Location, ft.Country, err)
			}
			locations[locationKey(ft.Location, ft.Country)] = loc
		}
		text := textx.CollapseSpaces(textx.SanitizeText(ft.Text))
		if text == "" {
			slog.Warn("skipping empty tip", slog.String("location", ft.Location))
			continue
		}
		tip := domain.Tip{RawText: text, LocationID: loc.ID, Status: domain.TipPending}
		if ft.Language != "" {
			lang := ft.Language
			tip.DetectedLanguage = &lang
		}
		if _, err := tipRepo.Create(ctx, tip); err != nil {
			return fmt.Errorf("op=seed.tip: %w", err)
		}
		inserted++
	}
	slog.Info("tips seeded", slog.Int("count", inserted))
	return nil
}

func locationKey(name, country string) string {
	return fmt.Sprintf("%s|%s", name, country)
}
