// Command sota runs the expert-set deliberation loop to build a
// state-of-the-art comparison table for a research topic, backed by a
// GraphRAG knowledge engine over a configurable set of document sources.
//
//	go run ./cmd/sota \
//	  --topic "efficient transformer architectures for long-context inference" \
//	  --config ./sota.yaml \
//	  --output ./sota-table.md
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	sota "github.com/sotatable/sota"
	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/embedder"
	"github.com/sotatable/sota/expertset"
	"github.com/sotatable/sota/graphbuild"
	"github.com/sotatable/sota/graphquery"
	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kanban"
	"github.com/sotatable/sota/kg"
	"github.com/sotatable/sota/llm"
	"github.com/sotatable/sota/receptionist"
	"github.com/sotatable/sota/recoverer"
	"github.com/sotatable/sota/sourceadapter"
	"github.com/sotatable/sota/sotatable"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (overlaid on defaults)")
	topic := flag.String("topic", "", "Initial research topic description for the comparison table (required)")
	inspect := flag.Bool("i", false, "Inspect every model call (also --inspect-query)")
	flag.BoolVar(inspect, "inspect-query", false, "Inspect every model call")
	output := flag.String("output", "sota-table.md", "Path to write the final SOTA table markdown")
	xlsxOutput := flag.String("xlsx", "", "Optional path to also write the final SOTA table as an XLSX workbook")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if *topic == "" {
		fmt.Fprintln(os.Stderr, "error: --topic is required")
		os.Exit(1)
	}

	cfg := sota.DefaultConfig()
	if *configPath != "" {
		loaded, err := sota.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.InspectQueries = cfg.InspectQueries || *inspect

	ctx := context.Background()

	engine, err := buildEngine(ctx, cfg)
	if err != nil {
		slog.Error("building engine", "error", err)
		os.Exit(1)
	}

	board := kanban.New(*topic, kanban.Config{
		PollInterval: secondsOrDefault(cfg.Board.PollIntervalSeconds, 3),
		Timeout:      secondsOrDefault(cfg.Board.TimeoutSeconds, 600),
	})

	driverCfg := expertset.DefaultDriverConfig()
	driverCfg.MaxRounds = intOrDefault(cfg.MaxRounds, driverCfg.MaxRounds)

	driver := expertset.NewExpertSetDriver(board, engine.picker, engine.adder, engine.remover, engine.asker, engine.experts, driverCfg)

	markdown, outcomes, err := driver.Run(ctx)
	if err != nil {
		slog.Error("running deliberation loop", "error", err)
		os.Exit(1)
	}
	for _, o := range outcomes {
		slog.Info("round complete", "round", o.Round, "action", o.Action, "detail", o.Detail)
	}

	if err := os.WriteFile(*output, []byte(markdown), 0644); err != nil {
		slog.Error("writing output table", "path", *output, "error", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Wrote SOTA table to %s\n", *output)

	if *xlsxOutput != "" {
		var writeErr error
		board.WithTable(func(t *sotatable.Table) {
			writeErr = t.WriteXLSX(*xlsxOutput)
		})
		if writeErr != nil {
			slog.Error("writing XLSX output", "path", *xlsxOutput, "error", writeErr)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Wrote SOTA table to %s\n", *xlsxOutput)
	}
}

// engine bundles every long-lived, wired-together component the CLI
// needs once startup is done.
type engine struct {
	picker  *expertset.ActionPicker
	adder   *expertset.PaperAdder
	remover *expertset.DocumentRemover
	asker   *expertset.UserQuestioner
	experts []*expertset.Expert
}

// buildEngine wires the GraphRAG stack (chunker, embedder, jsonmodel
// client, knowledge graph, DRIFT query engine, Recoverer) and then the
// expert-set deliberation components on top of it (§6).
func buildEngine(ctx context.Context, cfg sota.Config) (*engine, error) {
	chatProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider, Model: cfg.Chat.Model, BaseURL: cfg.Chat.BaseURL, APIKey: cfg.Chat.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("chat provider: %w", err)
	}
	embedProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider, Model: cfg.Embedding.Model, BaseURL: cfg.Embedding.BaseURL, APIKey: cfg.Embedding.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	emb := embedder.New(embedProvider, cfg.EmbeddingDim)
	model := jsonmodel.New(chatProvider, jsonmodel.Config{
		Model:   cfg.Chat.Model,
		Inspect: cfg.InspectQueries,
		KeyPool: cfg.Chat.APIKeyPool,
	})

	graph := kg.New()
	ch := chunker.New(chunker.Config{MaxTokens: cfg.MaxChunkTokens, OverlapTokens: cfg.ChunkOverlap})

	builder := graphbuild.New(graph, ch, emb, model, graphbuild.Config{
		Concurrency:       intOrDefault(cfg.GraphConcurrency, 10),
		MinCommunitySize:  intOrDefault(cfg.MinCommunitySize, 3),
		MaxCommunityLevel: intOrDefault(cfg.MaxCommunityLevel, 5),
		BatchMaxTokens:    3000,
	})

	query := graphquery.New(graph, emb, model, graphquery.Config{
		TopCommunities:  intOrDefault(cfg.GlobalTopCommunities, 5),
		TopUnits:        intOrDefault(cfg.LocalTopUnits, 8),
		ConfidenceFloor: cfg.LocalConfidenceFloor,
	})

	sources, survey := buildSources(cfg.Sources)

	recov := recoverer.New(query, builder, model, sources, survey, recoverer.Config{
		MaxIterations: intOrDefault(cfg.RecovererMaxIterations, 2),
	})

	chunkCfg := chunker.Config{MaxTokens: intOrDefault(cfg.FeatureChunkTokens, 500), OverlapTokens: 0}
	experts, err := buildExperts(ctx, cfg, recov, emb, chunkCfg)
	if err != nil {
		return nil, err
	}

	pickerCfg := expertset.DefaultActionPickerConfig()
	pickerCfg.ExtraContextPapers = intOrDefault(cfg.ExtraContextPapersPerVote, pickerCfg.ExtraContextPapers)

	removerCfg := expertset.DefaultDocumentRemoverConfig()
	removerCfg.MaxToRemove = intOrDefault(cfg.DocumentsToRemovePerRound, removerCfg.MaxToRemove)

	adderCfg := expertset.DefaultPaperAdderConfig()
	adderCfg.ChunkTokens = intOrDefault(cfg.FeatureChunkTokens, adderCfg.ChunkTokens)
	adderCfg.NewFeaturesProposedPerChunk = intOrDefault(cfg.NewFeaturesProposedPerChunk, adderCfg.NewFeaturesProposedPerChunk)
	adderCfg.NewFeaturesKeptAfterDedup = intOrDefault(cfg.NewFeaturesKeptAfterDedup, adderCfg.NewFeaturesKeptAfterDedup)

	userAPI := receptionist.New(os.Stdin, os.Stdout)

	return &engine{
		picker:  expertset.NewActionPicker(model, pickerCfg),
		adder:   expertset.NewPaperAdder(model, recov, adderCfg),
		remover: expertset.NewDocumentRemover(model, removerCfg),
		asker:   expertset.NewUserQuestioner(model, userAPI, recov, emb, chunkCfg, 3),
		experts: experts,
	}, nil
}

// buildSources wires one sourceadapter.Adapter per configured source
// for the "arxiv", "semanticscholar" and "localfile" (or "local") kinds;
// any other configured kind is logged and skipped rather than failing
// startup (§7: deep components degrade rather than raise). The first
// adapter is also used as the survey source (§4.6: get_survey_docs).
func buildSources(cfgs []sota.SourceConfig) ([]sourceadapter.Adapter, sourceadapter.Adapter) {
	var adapters []sourceadapter.Adapter
	for _, c := range cfgs {
		switch c.Kind {
		case "localfile", "local":
			adapters = append(adapters, sourceadapter.NewLocalFileAdapter(c.LocalDir))
		case "arxiv":
			adapters = append(adapters, sourceadapter.NewArxivAdapter())
		case "semanticscholar":
			adapters = append(adapters, sourceadapter.NewSemanticScholarAdapter())
		default:
			slog.Warn("sota: no adapter implementation for configured source kind, skipping", "name", c.Name, "kind", c.Kind)
		}
	}
	if len(adapters) == 0 {
		return nil, nil
	}
	return adapters, adapters[0]
}

// buildExperts constructs one expertset.Expert per configured expert
// description, each seeded from the recoverer's survey documents
// (§4.12).
func buildExperts(ctx context.Context, cfg sota.Config, recov *recoverer.Recoverer, emb embedder.Embedder, chunkCfg chunker.Config) ([]*expertset.Expert, error) {
	descriptions := cfg.Experts
	if len(descriptions) == 0 {
		descriptions = []string{"a generalist researcher surveying the topic broadly"}
	}

	experts := make([]*expertset.Expert, 0, len(descriptions))
	for i, desc := range descriptions {
		id := fmt.Sprintf("expert_%d", i)
		e, err := expertset.BuildExpert(ctx, id, id, desc, recov, emb, chunkCfg, 3)
		if err != nil {
			return nil, fmt.Errorf("building expert %q: %w", desc, err)
		}
		experts = append(experts, e)
	}
	return experts, nil
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func secondsOrDefault(seconds, def int) time.Duration {
	if seconds <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(seconds) * time.Second
}
