// Command verify_replays rebuilds every finished battle from its persisted
// action log and checks the result against the stored checksum. A non-zero
// exit means at least one battle no longer replays deterministically.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/openwargame/wargame-server-go/internal/config"
	"github.com/openwargame/wargame-server-go/internal/game"
	"github.com/openwargame/wargame-server-go/internal/repository"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the server config file")
	battleID := flag.String("battle", "", "verify a single battle instead of all finished ones")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is not configured; nothing to verify")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := repository.NewDB(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer db.Close()
	repo := repository.NewBattleRepository(db)

	var targets []repository.FinishedBattle
	if *battleID != "" {
		targets = []repository.FinishedBattle{{ID: *battleID}}
	} else {
		targets, err = repo.ListFinished(ctx)
		if err != nil {
			log.Fatalf("listing battles: %v", err)
		}
	}
	if len(targets) == 0 {
		fmt.Println("no finished battles to verify")
		return
	}

	failed := 0
	for _, target := range targets {
		if err := verify(ctx, repo, target); err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", target.ID, err)
			continue
		}
		fmt.Printf("ok   %s\n", target.ID)
	}
	fmt.Printf("verified %d battles, %d failed\n", len(targets), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func verify(ctx context.Context, repo *repository.BattleRepository, target repository.FinishedBattle) error {
	initial, entries, err := repo.LoadBattle(ctx, target.ID)
	if err != nil {
		return err
	}
	rebuilt, err := game.Rebuild(initial, entries)
	if err != nil {
		return fmt.Errorf("rebuilding from %d log entries: %w", len(entries), err)
	}
	got := game.Checksum(rebuilt)
	if target.Checksum != "" && got != target.Checksum {
		return fmt.Errorf("checksum mismatch: rebuilt %s, stored %s", got, target.Checksum)
	}
	return nil
}
