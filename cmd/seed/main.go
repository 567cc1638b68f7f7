package main

import (
	"context"
	"flag"
	"log"

	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/seed"
)

func main() {
	path := flag.String("file", "seed/catalog.yaml", "catalog YAML file")
	flag.Parse()

	catalog, err := seed.LoadFile(*path)
	if err != nil {
		log.Fatalf("Load catalog: %v", err)
	}

	cfg, err := config.LoadDatabase()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	sum, err := seed.Apply(context.Background(), db, catalog)
	if err != nil {
		log.Fatalf("Apply catalog: %v", err)
	}

	log.Printf("Seeded catalog: brands=%d categories=%d products_created=%d products_skipped=%d",
		sum.Brands, sum.Categories, sum.Created, sum.Skipped)
}
