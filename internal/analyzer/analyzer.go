// Package analyzer produces raw analysis payloads for document text, either
// from a remote analysis service or from the local keyword heuristics.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ericksa/policylens/internal/config"
	"github.com/ericksa/policylens/internal/logger"
)

const (
	ProviderRemote    = "remote"
	ProviderHeuristic = "heuristic"
)

// Analyzer returns a payload for analysis.Decode.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (json.RawMessage, error)
}

// New builds the analyzer selected by cfg.Provider.
func New(cfg config.AnalyzerConfig, log *logger.Logger) (Analyzer, error) {
	switch cfg.Provider {
	case ProviderRemote:
		return NewRemote(cfg, log), nil
	case ProviderHeuristic, "":
		return Heuristic{}, nil
	default:
		return nil, fmt.Errorf("unknown analyzer provider: %s", cfg.Provider)
	}
}
