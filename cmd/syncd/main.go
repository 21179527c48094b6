package main

import (
	"context"
	"log"

	"github.com/trosyn/lansync/internal/app"
	"github.com/trosyn/lansync/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	a.Run(ctx)

}
