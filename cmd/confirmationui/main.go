package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/confirmationui/internal/config"
	"github.com/danmuck/confirmationui/internal/logging"
	"github.com/danmuck/confirmationui/internal/service"
)

func main() {
	configPath := flag.String("config", "", "service config (TOML); defaults apply when empty")
	writeDevices := flag.String("write-device-table", "", "write a device table template to this path and exit")
	force := flag.Bool("force", false, "overwrite an existing device table template")
	flag.Parse()

	logging.ConfigureRuntime()

	if *writeDevices != "" {
		if err := config.WriteTemplate(*writeDevices, *force); err != nil {
			fmt.Fprintf(os.Stderr, "confirmationui: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote device table template to %s\n", *writeDevices)
		return
	}

	cfg := service.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "confirmationui: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := service.New(cfg).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "confirmationui: %v\n", err)
		os.Exit(1)
	}
}
