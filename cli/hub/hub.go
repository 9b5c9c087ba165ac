package hub

import (
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpcmesh/rpcmesh/api"
	"github.com/rpcmesh/rpcmesh/chain"
	"github.com/rpcmesh/rpcmesh/cli/args"
	"github.com/rpcmesh/rpcmesh/db"
	"github.com/rpcmesh/rpcmesh/geodata"
	hubcore "github.com/rpcmesh/rpcmesh/hub"
	"github.com/rpcmesh/rpcmesh/logger"
)

type config struct {
	Hub           hubcore.Config `yaml:"hub"`
	Api           api.Config     `yaml:"api"`
	Db            db.Config      `yaml:"db"`
	Chain         chain.Config   `yaml:"chain"`
	GeoDataDbPath string         `yaml:"geoDataDbPath" env:"GEO_DATA_DB_PATH" env-description:"Path to GeoIP database file (optional)"`
}

var cfg config

var globalArgs args.GlobalArgs

// StartHubCmd runs the relay hub: node websocket endpoint, RPC ingress and
// observability API.
var StartHubCmd = &cobra.Command{
	Use:   "start-hub",
	Short: "Starts the relay hub",
	Run: func(cmd *cobra.Command, _ []string) {
		if globalArgs.ConfigPath == "" {
			log.Fatal("Config path is required")
		}
		if err := cleanenv.ReadConfig(globalArgs.ConfigPath, &cfg); err != nil {
			log.Fatal("Error reading config file: ", err)
		}

		zapLogger, err := logger.Create(globalArgs.LogLevel)
		if err != nil {
			log.Fatal("Error initializing logger: ", err)
		}
		defer zapLogger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := db.Open(&cfg.Db, zapLogger)
		if err != nil {
			zapLogger.Fatal("Error opening stats store", zap.Error(err))
			return
		}
		defer store.Close()

		var geoDb *geodata.GeoIP2DB
		if cfg.GeoDataDbPath != "" {
			geoDb, err = geodata.NewGeoIP2DB(cfg.GeoDataDbPath)
			if err != nil {
				zapLogger.Warn("Error opening geo database, connection labels disabled", zap.Error(err))
				geoDb = nil
			} else {
				defer geoDb.Close()
			}
		}

		verifier := buildVerifier(zapLogger)

		registry := hubcore.NewRegistry(zapLogger)
		recorder := hubcore.NewRecorder(store, cfg.Db.FallbackPath, registry, &cfg.Hub, zapLogger)
		server := hubcore.NewServer(&cfg.Hub, registry, recorder, verifier, geoDb, zapLogger)
		router := hubcore.NewRouter(registry, recorder, &cfg.Hub, zapLogger)

		go recorder.Run(ctx)
		go server.Run(ctx)

		httpApi := api.New(&cfg.Api, router, registry, recorder, server, store, zapLogger)
		go func() {
			if err := httpApi.Start(); err != nil {
				zapLogger.Fatal("Error starting server", zap.Error(err))
			}
		}()

		<-ctx.Done()
		zapLogger.Info("shutting down, flushing stats")
		recorder.FlushAll()
	},
}

func buildVerifier(zapLogger *zap.Logger) chain.Verifier {
	ttl := time.Duration(cfg.Chain.CacheTTLMinutes) * time.Minute
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	if cfg.Chain.RPCUrl == "" {
		zapLogger.Warn("no chain RPC configured, using empty static registry")
		return chain.NewCachedVerifier(chain.NewStaticVerifier(), ttl)
	}
	registry, err := chain.NewRegistryVerifier(&cfg.Chain, zapLogger)
	if err != nil {
		zapLogger.Fatal("Error connecting to chain registry", zap.Error(err))
	}
	return chain.NewCachedVerifier(registry, ttl)
}

func init() {
	args.ProcessArgs(&globalArgs, StartHubCmd)
}
