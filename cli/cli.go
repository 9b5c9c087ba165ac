package cli

import (
	"log"

	"github.com/spf13/cobra"

	agentcmd "github.com/rpcmesh/rpcmesh/cli/agent"
	hubcmd "github.com/rpcmesh/rpcmesh/cli/hub"
)

var RootCmd = &cobra.Command{
	Use:   "rpcmesh",
	Short: "rpcmesh",
	Long:  `rpcmesh runs the relay hub and cache node agents of the RPC acceleration network`,
}

func Execute(appName, version string) {
	RootCmd.Short = appName
	RootCmd.Version = version

	if err := RootCmd.Execute(); err != nil {
		log.Fatal("failed to execute root command: ", err)
	}
}

func init() {
	RootCmd.AddCommand(hubcmd.StartHubCmd)
	RootCmd.AddCommand(agentcmd.StartAgentCmd)
}
