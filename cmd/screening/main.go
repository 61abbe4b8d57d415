package main

import (
	"fmt"
	"os"

	"lung-screening-service/internal/adapters"
	"lung-screening-service/internal/config"
	"lung-screening-service/internal/domain/repositories"
	"lung-screening-service/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:          "screening",
		Short:        "Lung ultrasound TB screening service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"config file (default $SCREENING_CONFIG, then the user config dir, then ./config.yaml)")

	root.AddCommand(newServeCmd(flags), newExamsCmd(flags))
	return root
}

// repository is a persistence gateway that owns a handle to close.
type repository interface {
	repositories.ExaminationRepositoryContract
	Close() error
}

// runtime is what every command needs: loaded config, a logger and the
// configured persistence gateway.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	repo   repository
}

func bootstrap(flags *rootFlags) (*runtime, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	repo, err := openRepository(cfg.Storage, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, repo: repo}, nil
}

func (r *runtime) Close() {
	if err := r.repo.Close(); err != nil {
		r.logger.Warn("closing repository", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func openRepository(cfg config.StorageConfig, logger *zap.Logger) (repository, error) {
	switch cfg.Driver {
	case config.DriverLevelDB:
		repo, err := adapters.OpenLevelDBExaminationRepository(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.DriverSQLite, config.DriverPostgres:
		dsn := cfg.Path
		if cfg.Driver == config.DriverPostgres {
			dsn = cfg.DSN
		}
		db, err := adapters.OpenGorm(cfg.Driver, dsn)
		if err != nil {
			return nil, err
		}
		repo, err := adapters.NewGormExaminationRepository(db, logger)
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		logger.Info("gorm repository ready", zap.String("driver", cfg.Driver))
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
