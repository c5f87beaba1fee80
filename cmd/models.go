package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/prepstack/enrich-cli/internal/model"
	"github.com/prepstack/enrich-cli/pkg/anthropic"
	"github.com/prepstack/enrich-cli/pkg/ollama"
	"github.com/prepstack/enrich-cli/pkg/openai"
)

var modelsBackend string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models for a backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, ok := model.ParseBackend(modelsBackend)
		if !ok {
			return eris.Errorf("unknown backend %q (want openai, anthropic or ollama)", modelsBackend)
		}

		if backend != model.BackendOllama {
			for _, name := range hostedModels(backend) {
				fmt.Println(name)
			}
			return nil
		}

		models, err := listOllamaModels(cmd.Context())
		if err != nil {
			return err
		}
		if len(models) == 0 {
			fmt.Println("no models installed")
			return nil
		}
		for _, m := range models {
			fmt.Printf("%s\t%.1f GB\t%s\n", m.Name, float64(m.Size)/1e9, m.Modified)
		}
		return nil
	},
}

// hostedModels returns the fixed supported-model list for a hosted backend.
// Hosted APIs expose no cheap listing endpoint worth a keyed call here.
func hostedModels(backend model.Backend) []string {
	if backend == model.BackendAnthropic {
		return anthropic.SupportedModels
	}
	return openai.SupportedModels
}

func listOllamaModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	client := ollama.NewClient(
		ollama.WithBaseURL(cfg.Ollama.BaseURL),
		ollama.WithTimeout(cfg.Ollama.Timeout()),
	)
	return client.ListModels(ctx)
}

func init() {
	modelsCmd.Flags().StringVar(&modelsBackend, "backend", "ollama", "AI backend: openai, anthropic or ollama")
	rootCmd.AddCommand(modelsCmd)
}
