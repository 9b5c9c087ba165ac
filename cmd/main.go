package main

import "github.com/rpcmesh/rpcmesh/cli"

var (
	AppName = "RPC Mesh"
	Version = "latest"
)

func main() {
	cli.Execute(AppName, Version)
}
