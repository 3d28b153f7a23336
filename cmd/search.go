package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zeeeepa/ragforge-sub003/pkg/engine"
	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

type searchFlagValues struct {
	kinds    []string
	projects []string
	mode     string
	limit    int
	minScore float64
}

var searchFlags searchFlagValues

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search canonical entities and tags",
	Long: `Searches the canonical entity and tag registries. The default hybrid mode
combines vector similarity with fuzzy lexical matching; semantic and lexical
run one side only. Semantic modes fall back to lexical when embedding fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := searchFlags.options(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) (any, error) {
			results, err := e.Search.Search(ctx, opts)
			if err != nil {
				return nil, err
			}
			if results == nil {
				results = []models.SearchResult{}
			}
			return results, nil
		})
	},
}

// options translates the flags into search options.
func (f searchFlagValues) options(query string) (models.SearchOptions, error) {
	opts := models.SearchOptions{
		Query:      query,
		Limit:      f.limit,
		MinScore:   f.minScore,
		ProjectIDs: f.projects,
	}

	for _, k := range f.kinds {
		kind := models.EntityKind(k)
		if !models.IsValidEntityKind(kind) {
			return opts, fmt.Errorf("unknown entity kind %q", k)
		}
		opts.EntityKinds = append(opts.EntityKinds, kind)
	}

	switch f.mode {
	case "hybrid":
		opts.UseSemantic = true
	case "semantic":
		hybrid := false
		opts.UseSemantic = true
		opts.UseHybrid = &hybrid
	case "lexical":
	default:
		return opts, fmt.Errorf("--mode must be hybrid, semantic or lexical, got %q", f.mode)
	}
	return opts, nil
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchFlags.kinds, "kind", nil, "restrict entity hits to these kinds (repeatable)")
	searchCmd.Flags().StringSliceVar(&searchFlags.projects, "project", nil, "restrict hits to these projects (repeatable)")
	searchCmd.Flags().StringVar(&searchFlags.mode, "mode", "hybrid", "hybrid, semantic or lexical")
	searchCmd.Flags().IntVar(&searchFlags.limit, "limit", 0, "maximum results (0 uses search.default_limit)")
	searchCmd.Flags().Float64Var(&searchFlags.minScore, "min-score", 0, "drop results scoring below this")

	rootCmd.AddCommand(searchCmd)
}
