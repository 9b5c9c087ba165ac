package agent

import (
	"log"
	"os/signal"
	"syscall"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	agentcore "github.com/rpcmesh/rpcmesh/agent"
	"github.com/rpcmesh/rpcmesh/cli/args"
	"github.com/rpcmesh/rpcmesh/keys"
	"github.com/rpcmesh/rpcmesh/logger"
	"github.com/rpcmesh/rpcmesh/utils"
)

type config struct {
	Agent agentcore.Config `yaml:"agent"`
}

var cfg config

var globalArgs args.GlobalArgs

// StartAgentCmd runs a cache node: local RPC response cache plus a relay
// connection serving forwarded traffic.
var StartAgentCmd = &cobra.Command{
	Use:   "start-agent",
	Short: "Starts a cache node agent",
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

		identity, err := keys.Load(cfg.Agent.KeyPath)
		if err != nil {
			zapLogger.Fatal("Error loading operator key", zap.Error(err))
			return
		}
		zapLogger.Info("operator identity loaded",
			zap.String("wallet", utils.ShortAddress(identity.Address())))

		node, err := agentcore.New(&cfg.Agent, identity, zapLogger)
		if err != nil {
			zapLogger.Fatal("Error creating agent", zap.Error(err))
			return
		}

		go func() {
			if err := node.StartLocalAPI(); err != nil {
				zapLogger.Error("Error starting local api", zap.Error(err))
			}
		}()

		node.Run(ctx)
	},
}

func init() {
	args.ProcessArgs(&globalArgs, StartAgentCmd)
}
