package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/fieldsync/internal/cli"
	"github.com/dmitrijs2005/fieldsync/internal/config"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

func main() {

	ctx := context.Background()

	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg, logging.NewDefault())

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
