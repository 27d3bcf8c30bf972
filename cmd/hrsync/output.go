package main

import (
	"encoding/json"
	"os"
)

type runOutput struct {
	Command    string `json:"command"`
	RunID      string `json:"run_id"`
	DurationMS int64  `json:"duration_ms"`
	Result     any    `json:"result,omitempty"`
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
