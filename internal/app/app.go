// Package app wires configuration, the restic client, the listing
// store, and the browse engine into a running application.
package app

import (
	"fmt"
	"os"
	"time"

	"rex-go/internal/browse"
	"rex-go/internal/config"
	"rex-go/internal/restic"
	"rex-go/internal/store"
)

// App is the application layer between the CLI and the browse engine.
// It constructs all dependencies from config and manages the log file
// and listing-store lifecycle on Close.
type App struct {
	Engine *browse.Engine

	cfg     *config.Config
	cfgPath string
	logFile *os.File
}

// New creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "ls", "get"). The caller
// must call Close when done.
func New(cfgPath string, cfg *config.Config, operation string, verbose bool) (*App, error) {
	opID := fmt.Sprintf("%s-%s", operation, time.Now().UTC().Format("20060102T150405Z"))
	logger, logFile, err := newLogger(cfg.LogDir, opID, verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	engine := browse.NewEngine(
		restic.NewClient(log),
		store.NewOpener(cfg.CacheDir, log),
		NewTerminalPrompter(),
		&configSaver{path: cfgPath, cfg: cfg},
		log,
		browse.RealClock{},
		browse.UUIDGenerator{},
	)
	for _, rc := range cfg.Repositories {
		engine.AddRepo(browse.NewRepository(rc.Name, rc.Target))
	}

	return &App{
		Engine:  engine,
		cfg:     cfg,
		cfgPath: cfgPath,
		logFile: logFile,
	}, nil
}

// Close releases the listing stores and the log file.
func (a *App) Close() error {
	err := a.Engine.Close()
	if a.logFile != nil {
		if cerr := a.logFile.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// configSaver persists the repository registry back to the config
// file. Only names and targets are written; passwords never leave
// memory.
type configSaver struct {
	path string
	cfg  *config.Config
}

var _ browse.RegistrySaver = (*configSaver)(nil)

func (s *configSaver) Save(repos []*browse.Repository) error {
	list := make([]config.RepositoryConfig, 0, len(repos))
	for _, r := range repos {
		list = append(list, config.RepositoryConfig{Name: r.Name, Target: r.Target})
	}
	s.cfg.Repositories = list
	return config.WriteToFile(s.path, s.cfg)
}
