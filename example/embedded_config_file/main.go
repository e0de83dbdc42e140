package main

import (
	"encoding/json"
	"fmt"

	"github.com/loykin/previewd"
)

// Loads a TOML config file and runs the orchestrator with it using the
// public previewd facade.
func main() {
	cfg, err := previewd.LoadConfig("previewd.toml")
	if err != nil {
		panic(err)
	}

	mgr, err := previewd.New(cfg.Orchestrator())
	if err != nil {
		panic(err)
	}
	defer mgr.Close()

	if cfg.Store.DSN != "" {
		st, err := previewd.NewStoreFromDSN(cfg.Store.DSN)
		if err != nil {
			panic(err)
		}
		if err := mgr.SetStore(st); err != nil {
			panic(err)
		}
	}

	b, _ := json.MarshalIndent(map[string]any{
		"ports":     mgr.PortsInfo(),
		"workspace": cfg.Workspace,
	}, "", "  ")
	fmt.Println(string(b))
}
