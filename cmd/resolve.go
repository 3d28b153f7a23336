package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Zeeeepa/ragforge-sub003/pkg/engine"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

var resolveEntitiesCmd = &cobra.Command{
	Use:   "resolve-entities",
	Short: "Link unresolved entity mentions to canonical entities",
	Long: `Reads unlinked mentions above the confidence threshold, asks the model which
existing canonical entity each one refers to, merges the matches and creates
canonical entities for the rest.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
			return e.Resolution.ResolveEntities(ctx)
		})
	},
}

var mergeCanonicalsCmd = &cobra.Command{
	Use:   "merge-canonicals",
	Short: "Fold canonical entities that normalize to the same name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
			return e.Resolution.MergeCanonicals(ctx)
		})
	},
}

var resolveTagsCmd = &cobra.Command{
	Use:   "resolve-tags",
	Short: "Merge duplicate and synonymous tags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
			return e.Tags.ResolveTags(ctx)
		})
	},
}

var attachTagFlags struct {
	category string
	project  string
	node     string
}

var attachTagCmd = &cobra.Command{
	Use:   "attach-tag NAME",
	Short: "Create a tag if needed and link it to a content node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, err := uuid.Parse(attachTagFlags.node)
		if err != nil {
			return fmt.Errorf("invalid --node %q: %w", attachTagFlags.node, err)
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
			return e.Tags.AttachTag(ctx, args[0], models.TagCategory(attachTagFlags.category), attachTagFlags.project, nodeID)
		})
	},
}

var generateEmbeddingsCmd = &cobra.Command{
	Use:   "generate-embeddings",
	Short: "Embed canonical entities and tags whose content changed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
			return e.Embeddings.GenerateEmbeddings(ctx)
		})
	},
}

func init() {
	attachTagCmd.Flags().StringVar(&attachTagFlags.category, "category", string(models.TagCategoryOther), "tag category")
	attachTagCmd.Flags().StringVar(&attachTagFlags.project, "project", "", "project the tagged content belongs to")
	attachTagCmd.Flags().StringVar(&attachTagFlags.node, "node", "", "content node ID (UUID)")
	_ = attachTagCmd.MarkFlagRequired("node")

	rootCmd.AddCommand(resolveEntitiesCmd, mergeCanonicalsCmd, resolveTagsCmd, attachTagCmd, generateEmbeddingsCmd)
}
