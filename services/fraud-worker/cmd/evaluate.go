package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/app"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/configs"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/evaluation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate [file]",
		Short: "Dry-run the rules against transactions without dispatching",
		Long: `Evaluate reads one transaction object or an array of them from file,
or from stdin when no file is given, and prints each evaluation result.
Nothing is published. The velocity rule is skipped because it counts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runEvaluate,
	}
	return cmd
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	cfg, err := configs.Load(logger)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	bodies, err := splitTransactions(data)
	if err != nil {
		return err
	}

	engine, err := app.BuildEngine(logger, cfg, nil, app.EngineOptions{SkipVelocity: true})
	if err != nil {
		return err
	}
	return evaluateAll(cmd, engine, bodies)
}

func evaluateAll(cmd *cobra.Command, engine evaluation.Evaluator, bodies []json.RawMessage) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for i, body := range bodies {
		txn, err := views.ParseTransaction(body)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "transaction %d: %v\n", i, err)
			continue
		}
		if err := enc.Encode(engine.Evaluate(cmd.Context(), txn)); err != nil {
			return err
		}
	}
	return nil
}

// splitTransactions accepts a single JSON object or an array of objects.
func splitTransactions(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var bodies []json.RawMessage
		if err := json.Unmarshal(trimmed, &bodies); err != nil {
			return nil, pkg.NewAppError(pkg.ErrParseCode, "malformed transaction list", err)
		}
		return bodies, nil
	}
	return []json.RawMessage{trimmed}, nil
}
