package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zeeeepa/ragforge-sub003/pkg/engine"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

var lifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Inspect and repair document processing state",
}

var recoverStuckCmd = &cobra.Command{
	Use:   "recover-stuck",
	Short: "Reset records stuck in an in-progress state back to pending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
			return nonNilRecords(e.Lifecycle.RecoverStuck(ctx))
		})
	},
}

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Return failed records under the retry limit to pending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
			return nonNilRecords(e.Lifecycle.RetryFailed(ctx))
		})
	},
}

var lifecycleStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count records per state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
			counts, err := e.Lifecycle.Status(ctx)
			if err != nil {
				return nil, err
			}
			if counts == nil {
				counts = []models.LifecycleStateCount{}
			}
			return counts, nil
		})
	},
}

var lifecycleListFlags struct {
	state string
	limit int
}

var lifecycleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records in a state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state := models.LifecycleState(lifecycleListFlags.state)
		if !models.IsValidLifecycleState(state) {
			return fmt.Errorf("unknown lifecycle state %q", lifecycleListFlags.state)
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
			return nonNilRecords(e.Lifecycle.ListByState(ctx, state, lifecycleListFlags.limit))
		})
	},
}

// nonNilRecords makes an empty result print as [] rather than null.
func nonNilRecords(records []*models.LifecycleRecord, err error) ([]*models.LifecycleRecord, error) {
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*models.LifecycleRecord{}
	}
	return records, nil
}

func init() {
	lifecycleListCmd.Flags().StringVar(&lifecycleListFlags.state, "state", string(models.LifecycleStateError), "state to list")
	lifecycleListCmd.Flags().IntVar(&lifecycleListFlags.limit, "limit", 100, "maximum records")

	lifecycleCmd.AddCommand(recoverStuckCmd, retryFailedCmd, lifecycleStatusCmd, lifecycleListCmd)
	rootCmd.AddCommand(lifecycleCmd)
}
