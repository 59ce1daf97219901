// Package main provides the arsenal server binary: a WebSocket backend for
// ranged weapon fire control, ammo accounting, and authority hand-off.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arsenal/internal/config"
	"github.com/cory-johannsen/arsenal/internal/game/rng"
	"github.com/cory-johannsen/arsenal/internal/game/session"
	"github.com/cory-johannsen/arsenal/internal/game/weapon"
	"github.com/cory-johannsen/arsenal/internal/gateway"
	"github.com/cory-johannsen/arsenal/internal/observability"
	"github.com/cory-johannsen/arsenal/internal/scripting"
	"github.com/cory-johannsen/arsenal/internal/server"
	"github.com/cory-johannsen/arsenal/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	weaponsDir := flag.String("weapons-dir", "", "override for the weapon spec YAML directory")
	scriptsDir := flag.String("scripts-dir", "", "override for the Lua damage-hook directory; empty = config value")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *weaponsDir != "" {
		cfg.Game.WeaponsDir = *weaponsDir
	}
	if *scriptsDir != "" {
		cfg.Game.ScriptsDir = *scriptsDir
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	cryptoSrc := rng.NewCryptoSource()

	// Load weapon specifications.
	specStart := time.Now()
	specList, err := weapon.LoadSpecs(cfg.Game.WeaponsDir)
	if err != nil {
		logger.Fatal("loading weapon specs", zap.Error(err))
	}
	specs := make(map[string]*weapon.Spec, len(specList))
	for _, spec := range specList {
		specs[spec.ID] = spec
	}
	logger.Info("weapon specs loaded",
		zap.Int("count", len(specs)),
		zap.String("dir", cfg.Game.WeaponsDir),
		zap.Duration("elapsed", time.Since(specStart)),
	)

	// Initialise scripting engine for damage hooks.
	var scriptMgr *scripting.Manager
	if cfg.Game.ScriptsDir != "" {
		if info, statErr := os.Stat(cfg.Game.ScriptsDir); statErr == nil && info.IsDir() {
			scriptStart := time.Now()
			scriptMgr = scripting.NewManager(cryptoSrc, logger)
			if err := scriptMgr.LoadHooks(cfg.Game.ScriptsDir, scripting.DefaultInstructionLimit); err != nil {
				logger.Fatal("loading damage hook scripts",
					zap.String("dir", cfg.Game.ScriptsDir), zap.Error(err))
			}
			defer scriptMgr.Close()
			logger.Info("damage hook scripts loaded",
				zap.String("dir", cfg.Game.ScriptsDir),
				zap.Duration("elapsed", time.Since(scriptStart)),
			)
		} else {
			logger.Warn("scripts_dir not found, damage hooks disabled",
				zap.String("dir", cfg.Game.ScriptsDir))
		}
	}

	// Connect to PostgreSQL when snapshot persistence is enabled.
	var (
		pool  *postgres.Pool
		store gateway.SnapshotStore
	)
	if cfg.Game.PersistSnapshots {
		dbStart := time.Now()
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		store = snapshotStore{repo: postgres.NewSnapshotRepository(pool.DB())}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
	}

	sessMgr := session.NewManager()
	world := gateway.NewTargetIndex()

	hub, err := gateway.NewHub(gateway.Options{
		Specs:        specs,
		Sessions:     sessMgr,
		Scripts:      scriptMgr,
		Random:       cryptoSrc,
		World:        world,
		TransferKey:  []byte(cfg.Game.TransferKey),
		WriteTimeout: cfg.Server.WriteTimeout,
		Store:        store,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("creating gateway hub", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Health(r.Context(), 5*time.Second); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     mux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("http", server.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout, logger))

	if pool != nil {
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				for {
					time.Sleep(30 * time.Second)
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			},
			StopFn: func() {
				pool.Close()
			},
		})
	}

	logger.Info("arsenal server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("weapons", len(specs)),
		zap.Bool("persistence", pool != nil),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// snapshotStore adapts the PostgreSQL repository to the gateway's store
// interface.
type snapshotStore struct {
	repo *postgres.SnapshotRepository
}

func (s snapshotStore) Save(ctx context.Context, instanceID, authority string, snap weapon.Snapshot) error {
	return s.repo.Save(ctx, instanceID, authority, snap)
}

func (s snapshotStore) ListByAuthority(ctx context.Context, authority string) ([]gateway.StoredWeapon, error) {
	records, err := s.repo.ListByAuthority(ctx, authority)
	if err != nil {
		return nil, err
	}
	out := make([]gateway.StoredWeapon, 0, len(records))
	for _, rec := range records {
		out = append(out, gateway.StoredWeapon{
			InstanceID: rec.InstanceID,
			Snapshot:   rec.Snapshot,
		})
	}
	return out, nil
}

func (s snapshotStore) Delete(ctx context.Context, instanceID string) error {
	return s.repo.Delete(ctx, instanceID)
}
