package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/prepstack/enrich-cli/internal/enrich"
	"github.com/prepstack/enrich-cli/internal/model"
)

var (
	enrichTopic    string
	enrichBackend  string
	enrichModel    string
	enrichQuestion string
	enrichAnswer   string
	enrichFile     string
	enrichNoSave   bool
)

// questionItem is one entry in a batch input file. A bare string is a
// question with no pre-written answer.
type questionItem struct {
	Question string `yaml:"question" json:"question"`
	Answer   string `yaml:"answer" json:"answer"`
}

func (q *questionItem) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		q.Question = value.Value
		return nil
	}
	type plain questionItem
	return value.Decode((*plain)(q))
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich interview questions into knowledge-base records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backend, ok := model.ParseBackend(enrichBackend)
		if !ok {
			return eris.Errorf("unknown backend %q (want openai, anthropic or ollama)", enrichBackend)
		}

		items, err := collectQuestions()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return eris.New("no questions given: use --question or --file")
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		gen, err := enrich.ForConfig(cfg, backend, enrichModel)
		if err != nil {
			return err
		}

		requests := make([]model.EnrichmentRequest, 0, len(items))
		for _, item := range items {
			requests = append(requests, model.EnrichmentRequest{
				Question: strings.TrimSpace(item.Question),
				Answer:   strings.TrimSpace(item.Answer),
				Backend:  backend,
				Model:    resolveModel(backend, enrichModel),
			})
		}

		batch, result, err := env.Manager.Run(ctx, gen, enrichTopic, requests)
		if err != nil {
			return err
		}

		zap.L().Info("batch finished",
			zap.String("batch_id", batch.ID),
			zap.Int("succeeded", len(result.Records)),
			zap.Int("failed", len(result.Errors)),
			zap.Int("total", result.Total),
		)

		if enrichNoSave || len(result.Records) == 0 {
			return nil
		}
		total, err := env.Master.SaveBatch(enrichTopic, result.Records)
		if err != nil {
			return err
		}
		zap.L().Info("master file saved",
			zap.String("topic", enrichTopic),
			zap.Int("records", total),
		)
		return nil
	},
}

// collectQuestions gathers batch input from the flags: a single inline
// question, a YAML or JSON file, or both.
func collectQuestions() ([]questionItem, error) {
	var items []questionItem

	if enrichQuestion != "" {
		items = append(items, questionItem{Question: enrichQuestion, Answer: enrichAnswer})
	}

	if enrichFile == "" {
		return items, nil
	}

	data, err := os.ReadFile(enrichFile)
	if err != nil {
		return nil, eris.Wrapf(err, "read questions file %s", enrichFile)
	}

	var fromFile []questionItem
	switch strings.ToLower(filepath.Ext(enrichFile)) {
	case ".json":
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return nil, eris.Wrapf(err, "parse %s", enrichFile)
		}
	default:
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, eris.Wrapf(err, "parse %s", enrichFile)
		}
	}

	for _, item := range fromFile {
		if strings.TrimSpace(item.Question) != "" {
			items = append(items, item)
		}
	}
	return items, nil
}

func init() {
	enrichCmd.Flags().StringVar(&enrichTopic, "topic", "general", "topic for the master knowledge-base file")
	enrichCmd.Flags().StringVar(&enrichBackend, "backend", "ollama", "AI backend: openai, anthropic or ollama")
	enrichCmd.Flags().StringVar(&enrichModel, "model", "", "model name (default from config)")
	enrichCmd.Flags().StringVar(&enrichQuestion, "question", "", "single question to enrich")
	enrichCmd.Flags().StringVar(&enrichAnswer, "answer", "", "pre-written answer for --question")
	enrichCmd.Flags().StringVar(&enrichFile, "file", "", "YAML or JSON file with questions")
	enrichCmd.Flags().BoolVar(&enrichNoSave, "no-save", false, "skip writing results to the master file")
	rootCmd.AddCommand(enrichCmd)
}
