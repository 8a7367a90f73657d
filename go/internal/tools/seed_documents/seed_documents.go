// Seeds the auction and teams documents from the configured roster. Running
// servers pick the new documents up over LISTEN/NOTIFY, so this works
// mid-event as an explicit operator reset.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/turflads/crazy-bids-sub000/go/internal/auction"
	"github.com/turflads/crazy-bids-sub000/go/internal/dbconfig"
	"github.com/turflads/crazy-bids-sub000/go/internal/models"
	"github.com/turflads/crazy-bids-sub000/go/internal/roster"
	"github.com/turflads/crazy-bids-sub000/go/internal/store"
)

type seedConfig struct {
	Roster struct {
		File string `yaml:"file"`
		URL  string `yaml:"url"`
	} `yaml:"roster"`

	Teams []struct {
		Name       string `yaml:"name"`
		TotalPurse int64  `yaml:"total_purse"`
	} `yaml:"teams"`
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded .env")
	}

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// 1) Load config
	data, err := os.ReadFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", configPath, err)
		os.Exit(1)
	}
	var cfg seedConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", configPath, err)
		os.Exit(1)
	}
	if len(cfg.Teams) == 0 {
		fmt.Fprintln(os.Stderr, "config declares no teams")
		os.Exit(1)
	}

	// 2) Load roster
	var provider roster.Provider
	switch {
	case cfg.Roster.URL != "":
		provider = roster.NewHTTPProvider(cfg.Roster.URL)
	case cfg.Roster.File != "":
		provider = roster.NewFileProvider(cfg.Roster.File)
	default:
		fmt.Fprintln(os.Stderr, "config declares no roster source")
		os.Exit(1)
	}
	players, err := provider.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load roster: %v\n", err)
		os.Exit(1)
	}

	teams := make([]models.Team, 0, len(cfg.Teams))
	for _, t := range cfg.Teams {
		teams = append(teams, models.Team{Name: t.Name, TotalPurse: t.TotalPurse})
	}

	// 3) Build fresh documents
	auctionDoc, teamsDoc, err := auction.Reset(players, teams)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build documents: %v\n", err)
		os.Exit(1)
	}

	// 4) Connect to DB
	pool, err := pgxpool.New(ctx, dbconfig.DSNFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo, err := store.NewPgRepository(ctx, pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prepare documents table: %v\n", err)
		os.Exit(1)
	}

	// 5) Write both documents; each write notifies running servers
	auctionJSON, err := json.Marshal(auctionDoc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal auction document: %v\n", err)
		os.Exit(1)
	}
	if err := repo.PutDocument(ctx, store.KindAuction, auctionJSON); err != nil {
		fmt.Fprintf(os.Stderr, "write auction document: %v\n", err)
		os.Exit(1)
	}

	teamsJSON, err := json.Marshal(teamsDoc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal teams document: %v\n", err)
		os.Exit(1)
	}
	if err := repo.PutDocument(ctx, store.KindTeams, teamsJSON); err != nil {
		fmt.Fprintf(os.Stderr, "write teams document: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf(
		"Documents seed: players=%d teams=%d first_lot=%s base=%d\n",
		len(players), len(teams),
		auctionDoc.Players[0].FullName(), auctionDoc.CurrentBid,
	)
}
