package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"signal_trader/internal/bootstrap"
)

var (
	configFile = flag.String("config", "configs/signal_trader.yaml", "Path to configuration file")
	envFile    = flag.String("env", ".env", "Optional dotenv file loaded before the config")
	logLevel   = flag.String("log-level", "", "Override system.log_level (DEBUG, INFO, WARN, ERROR)")
	version    = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *version {
		fmt.Println(bootstrap.Version)
		return
	}

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	app, err := bootstrap.NewApp(context.Background(), *configFile, *envFile, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		app.Logger.Error("Exited with error", "error", err)
		os.Exit(1)
	}
}
