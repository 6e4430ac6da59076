package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lfarroco/claimchat/internal/app"
	"github.com/lfarroco/claimchat/internal/config"
	"go.uber.org/fx"
)

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "claimchat.toml"
	}
	return filepath.Join(dir, "claimchat", "config.toml")
}

func main() {
	configFlag := flag.String("config", "", "path to config file")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{Config: cfg}),
	).Run()
}
