package cmd

import (
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"

	"github.com/agentic-research/i2run/internal/config"
	"github.com/agentic-research/i2run/internal/logging"
	"github.com/agentic-research/i2run/internal/schema"
)

// setup loads the configuration and builds the logger. A non-empty level
// overrides the configured one.
func setup(configPath, level string) (*config.Config, *zap.Logger, error) {
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// loadSchema finds the definition document of task under the installation
// root and returns it merged with everything it includes.
func loadSchema(cfg *config.Config, task string, logger *zap.Logger) (*schema.Tree, error) {
	fsys := osfs.New(cfg.Root)
	index, err := schema.LoadTaskIndex(fsys, cfg.TaskIndex)
	if err != nil {
		return nil, err
	}
	p, err := schema.Locate(fsys, index, task)
	if err != nil {
		return nil, err
	}
	logger.Debug("loading task definition", zap.String("task", task), zap.String("path", p))

	t, err := schema.NewLoader(fsys, logger).Load(p)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", task, err)
	}
	return t, nil
}
