// Package config loads the docking service configuration from the
// environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/orchestrator"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Docking DockingConfig
}

// DockingConfig holds the search parameters applied to every job unless a
// request overrides them.
type DockingConfig struct {
	Strategy       string  `env:"DOCK_STRATEGY" envDefault:"genetic"`
	Exhaustiveness int     `env:"DOCK_EXHAUSTIVENESS" envDefault:"1"`
	ReferenceMode  string  `env:"DOCK_REFERENCE_MODE" envDefault:"none"`
	Workers        int     `env:"DOCK_WORKERS" envDefault:"0"`
	RandomSeed     int64   `env:"DOCK_RANDOM_SEED" envDefault:"0"`
	ClashThreshold float64 `env:"DOCK_CLASH_THRESHOLD" envDefault:"1.5"`
	DefaultRadius  float64 `env:"DOCK_DEFAULT_RADIUS" envDefault:"10"`
	GridSpacing    float64 `env:"DOCK_GRID_SPACING" envDefault:"0.375"`

	PopulationSize int     `env:"DOCK_POPULATION_SIZE" envDefault:"50"`
	MaxIterations  int     `env:"DOCK_MAX_ITERATIONS" envDefault:"100"`
	MutationRate   float64 `env:"DOCK_MUTATION_RATE" envDefault:"0.2"`
	CrossoverRate  float64 `env:"DOCK_CROSSOVER_RATE" envDefault:"0.8"`
	TournamentSize int     `env:"DOCK_TOURNAMENT_SIZE" envDefault:"3"`

	HighTemp       float64 `env:"DOCK_HIGH_TEMPERATURE" envDefault:"1000"`
	TargetTemp     float64 `env:"DOCK_TARGET_TEMPERATURE" envDefault:"300"`
	AnnealingSteps int     `env:"DOCK_ANNEALING_STEPS" envDefault:"1000"`
	Conformers     int     `env:"DOCK_CONFORMERS" envDefault:"10"`
	Orientations   int     `env:"DOCK_ORIENTATIONS" envDefault:"10"`

	RefineTop      int  `env:"DOCK_REFINE_TOP" envDefault:"10"`
	SkipRefinement bool `env:"DOCK_SKIP_REFINEMENT" envDefault:"false"`
	MaxResults     int  `env:"DOCK_MAX_RESULTS" envDefault:"0"`

	// MaxJobs bounds concurrently running docking jobs.
	MaxJobs int `env:"DOCK_MAX_CONCURRENT_JOBS" envDefault:"4"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, docking.WrapError(err, "parsing environment").WithComponent("config")
	}

	// An unset level follows the environment.
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		}
	}

	if err := cfg.Docking.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(format string, args ...interface{}) error {
	return docking.WrapErrorf(docking.ErrInvalidConfig, format, args...).WithComponent("config")
}

// Validate rejects values that no engine can run with.
func (d DockingConfig) Validate() error {
	if _, err := orchestrator.ParseStrategy(d.Strategy); err != nil {
		return err
	}
	if _, err := orchestrator.ParseReferenceMode(d.ReferenceMode); err != nil {
		return err
	}
	switch {
	case d.Exhaustiveness < 1:
		return invalid("exhaustiveness must be at least 1, got %d", d.Exhaustiveness)
	case d.DefaultRadius <= 0:
		return invalid("default radius must be positive, got %v", d.DefaultRadius)
	case d.GridSpacing <= 0:
		return invalid("grid spacing must be positive, got %v", d.GridSpacing)
	case d.ClashThreshold <= 0:
		return invalid("clash threshold must be positive, got %v", d.ClashThreshold)
	case d.MutationRate < 0 || d.MutationRate > 1:
		return invalid("mutation rate must be in [0,1], got %v", d.MutationRate)
	case d.CrossoverRate < 0 || d.CrossoverRate > 1:
		return invalid("crossover rate must be in [0,1], got %v", d.CrossoverRate)
	case d.PopulationSize < 2:
		return invalid("population size must be at least 2, got %d", d.PopulationSize)
	case d.MaxIterations < 1:
		return invalid("max iterations must be at least 1, got %d", d.MaxIterations)
	case d.HighTemp <= 0 || d.TargetTemp <= 0:
		return invalid("temperatures must be positive, got %v and %v", d.HighTemp, d.TargetTemp)
	case d.TargetTemp > d.HighTemp:
		return invalid("target temperature %v exceeds high temperature %v", d.TargetTemp, d.HighTemp)
	case d.MaxJobs < 1:
		return invalid("max concurrent jobs must be at least 1, got %d", d.MaxJobs)
	}
	return nil
}

// Orchestrator converts the docking section into an orchestrator
// configuration. Validate must have succeeded.
func (d DockingConfig) Orchestrator() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.Strategy, _ = orchestrator.ParseStrategy(d.Strategy)
	cfg.ReferenceMode, _ = orchestrator.ParseReferenceMode(d.ReferenceMode)
	cfg.Exhaustiveness = d.Exhaustiveness
	cfg.Workers = d.Workers
	cfg.RandomSeed = d.RandomSeed
	cfg.ClashThreshold = d.ClashThreshold
	cfg.DefaultRadius = d.DefaultRadius
	cfg.Grid.Spacing = d.GridSpacing
	cfg.RefineTop = d.RefineTop
	cfg.SkipRefinement = d.SkipRefinement
	cfg.MaxResults = d.MaxResults

	cfg.Genetic.PopulationSize = d.PopulationSize
	cfg.Genetic.MaxIterations = d.MaxIterations
	cfg.Genetic.MutationRate = d.MutationRate
	cfg.Genetic.CrossoverRate = d.CrossoverRate
	cfg.Genetic.TournamentSize = d.TournamentSize

	cfg.Annealing.HighTemp = d.HighTemp
	cfg.Annealing.TargetTemp = d.TargetTemp
	cfg.Annealing.Steps = d.AnnealingSteps
	cfg.Annealing.Conformers = d.Conformers
	cfg.Annealing.Orientations = d.Orientations

	// Monte-Carlo runs at a fixed temperature.
	cfg.MonteCarlo.HighTemp = d.TargetTemp
	cfg.MonteCarlo.TargetTemp = d.TargetTemp
	cfg.MonteCarlo.Steps = d.AnnealingSteps
	cfg.MonteCarlo.Orientations = d.Orientations

	cfg.Random.MaxIterations = d.MaxIterations
	return cfg
}
