package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coreagent/loopcore/internal/status"
	"github.com/coreagent/loopcore/internal/usage"
)

// newStatusCommand reports the resolved configuration the way a session's
// status panel would: provider/model, context budget, and any recorded
// usage totals for the selected model.
func newStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the resolved provider, model, and usage summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}

			providerID := strings.ToLower(strings.TrimSpace(flags.provider))
			if providerID == "" {
				providerID = strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
			}
			if providerID == "" {
				providerID = "anthropic"
			}
			entry := cfg.LLM.Providers[providerID]

			auth := "api-key"
			if strings.TrimSpace(entry.APIKey) == "" {
				auth = "unknown"
			}

			tracker := usage.NewTracker(usage.DefaultTrackerConfig())
			totals := tracker.GetTotals(providerID, entry.DefaultModel)
			statusArgs := status.StatusArgs{
				Config:    cfg,
				Provider:  providerID,
				Model:     entry.DefaultModel,
				ModelAuth: auth,
			}
			if totals != nil {
				statusArgs.InputTokens = int(totals.InputTokens)
				statusArgs.OutputTokens = int(totals.OutputTokens)
				statusArgs.TotalTokens = int(totals.Total())
			}

			fmt.Println(status.BuildStatusMessage(statusArgs))
			return nil
		},
	}
}
