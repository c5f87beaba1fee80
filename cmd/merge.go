package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mergeTopic string

var mergeCmd = &cobra.Command{
	Use:   "merge [files...]",
	Short: "Merge knowledge-base files into a topic's master file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if mergeTopic == "" {
			return eris.New("--topic is required")
		}

		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		total, err := env.Master.MergeFiles(mergeTopic, args)
		if err != nil {
			return err
		}
		zap.L().Info("merge complete",
			zap.String("topic", mergeTopic),
			zap.Int("sources", len(args)),
			zap.Int("records", total),
		)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [topic]",
	Short: "Show master knowledge-base statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		topics := args
		if len(topics) == 0 {
			all, err := env.Master.Topics()
			if err != nil {
				return err
			}
			topics = all
		}

		for _, topic := range topics {
			stats, err := env.Master.Stats(topic)
			if err != nil {
				return err
			}
			cmd.Printf("%s: %d records, %d verified, %d categories\n",
				stats.Topic, stats.Records, stats.Verified, len(stats.Categories))
		}
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeTopic, "topic", "", "target topic")
	rootCmd.AddCommand(mergeCmd, statsCmd)
}
