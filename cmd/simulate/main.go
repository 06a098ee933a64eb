// Command simulate replays a scripted battle through the engine with seeded
// dice and verifies the action log rebuilds the final state exactly.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/openwargame/wargame-server-go/internal/game"
	"github.com/openwargame/wargame-server-go/internal/geometry"
	"github.com/openwargame/wargame-server-go/internal/library"
	"github.com/openwargame/wargame-server-go/internal/rules"
	"github.com/openwargame/wargame-server-go/internal/server"
	"go.uber.org/zap"
)

var (
	statePath   = flag.String("state", "", "path to the initial state JSON file")
	scriptPath  = flag.String("script", "", "path to the action script JSON file")
	libraryDir  = flag.String("library", "data/library", "datasheet library directory")
	seed        = flag.Int64("seed", 1, "dice seed")
	debugMode   = flag.Bool("debug", false, "enable the sandbox state override")
	skipPreGame = flag.Bool("skip-pregame", false, "start directly in the shooting phase")
)

func main() {
	flag.Parse()
	if *statePath == "" || *scriptPath == "" {
		fmt.Fprintln(os.Stderr, "both -state and -script are required")
		os.Exit(2)
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	initial, err := loadState(*statePath)
	if err != nil {
		return err
	}
	script, err := loadScript(*scriptPath)
	if err != nil {
		return err
	}

	lib := library.New(logger)
	if err := lib.LoadDir(*libraryDir); err != nil {
		return err
	}
	measure := geometry.NewCalculator()
	rulesEngine := rules.NewEngine(lib, measure, rules.NewSeededRoller(*seed), logger)
	engine := game.NewBattleEngine(measure, rulesEngine, logger)

	const battleID = "simulation"
	if err := engine.StartBattle(battleID, initial, game.BattleOptions{
		DebugMode:   *debugMode,
		SkipPreGame: *skipPreGame,
	}); err != nil {
		return err
	}

	for i, raw := range script {
		action, err := server.DecodeAction(raw)
		if err != nil {
			return fmt.Errorf("script entry %d: %w", i, err)
		}
		result, err := engine.SubmitAction(battleID, action)
		if err != nil {
			return fmt.Errorf("script entry %d (%s): %w", i, action.ActionType(), err)
		}
		status := "ok"
		if !result.Success {
			status = "rejected: " + result.Error
		}
		fmt.Printf("%3d %-28s %s\n", i, action.ActionType(), status)
	}

	final, err := engine.Snapshot(battleID)
	if err != nil {
		return err
	}
	log, err := engine.Log(battleID)
	if err != nil {
		return err
	}
	if err := game.VerifyReplay(initial, final, log.Entries()); err != nil {
		return err
	}
	fmt.Printf("replay verified over %d actions\n", log.Len())
	fmt.Printf("final checksum %s\n", game.Checksum(final))
	return nil
}

func loadState(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return state, nil
}

func loadScript(path string) ([]json.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var script []json.RawMessage
	if err := json.Unmarshal(raw, &script); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return script, nil
}
