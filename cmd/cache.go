package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/prepstack/enrich-cli/internal/model"
)

var cacheClearBackend string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache sizes and hit rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env.Cache.Stats())
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear cached responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		var backend model.Backend
		if cacheClearBackend != "" {
			b, ok := model.ParseBackend(cacheClearBackend)
			if !ok {
				return eris.Errorf("unknown backend %q", cacheClearBackend)
			}
			backend = b
		}

		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		env.Cache.Clear(backend)
		if backend == "" {
			fmt.Println("cleared all backend caches")
		} else {
			fmt.Printf("cleared %s cache\n", backend)
		}
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().StringVar(&cacheClearBackend, "backend", "", "clear only this backend's cache")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
