package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/gophzip/internal/server"
	"github.com/dmitrijs2005/gophzip/internal/server/config"
)

func main() {

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Printf("config: %v", err)
		os.Exit(2)
	}

	ctx := context.Background()
	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}
