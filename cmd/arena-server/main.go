package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/arenaserver/battlearena/internal/config"
	"github.com/arenaserver/battlearena/internal/server"
)

func main() {
	log.SetFlags(0)
	cfg := &config.Config{}
	cobra.CheckErr(config.NewCmd(cfg, server.Serve).Execute())
}
