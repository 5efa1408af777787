package commands

import (
	"context"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"fluorite-memory/internal/api"
	"fluorite-memory/internal/types"
)

func ServeAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	addr := ac.Config.Server.Addr
	if cmd.IsSet("addr") {
		addr = cmd.String("addr")
	}
	ac.Logger.Info("fluorite-memory starting", "addr", addr, "data", ac.Config.Storage.Path, "search", ac.Engine.SearchEnabled())
	return api.NewServer(ac.Engine, ac.Logger).Start(ctx, addr)
}

func FeedbackAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	id, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}
	fb := types.Feedback{
		UserID:  cmd.String("user"),
		Type:    types.FeedbackType(cmd.String("type")),
		Comment: cmd.String("comment"),
	}
	res, err := ac.Engine.LearnFromFeedback(ctx, types.ChunkID(id), fb)
	if err != nil {
		return err
	}
	if !res.Updated {
		fmt.Fprintf(ac.Out, "feedback recorded for %s (quality unchanged)\n", id)
		return nil
	}
	fmt.Fprintf(ac.Out, "feedback recorded for %s: quality %.2f (%+.2f)\n", id, res.QualityScore, res.Adjustment)
	return nil
}

func OptimizeAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	rep, err := ac.Engine.Optimize(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(ac.Out)
	table.Header("Metric", "Value")
	_ = table.Append("Chunks analysed", fmt.Sprintf("%d", rep.Rebuild.Chunks))
	_ = table.Append("Relationship edges", fmt.Sprintf("%d", rep.Rebuild.Edges))
	_ = table.Append("Framework combinations", fmt.Sprintf("%d", rep.Rebuild.Combinations))
	_ = table.Append("Expired cache entries", fmt.Sprintf("%d", rep.Evicted))
	_ = table.Append("Database size (bytes)", fmt.Sprintf("%d", rep.Storage.DatabaseSizeBytes))
	_ = table.Append("Search optimized", fmt.Sprintf("%t", rep.SearchRan))
	return table.Render()
}

func ReindexAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	n, err := ac.Engine.ReindexSearch(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(ac.Out, "reindexed %d chunks\n", n)
	return nil
}

func StatsAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	st, err := ac.Engine.Stats()
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return ac.printJSON(st)
	}

	table := tablewriter.NewWriter(ac.Out)
	table.Header("Metric", "Value")
	_ = table.Append("Total chunks", fmt.Sprintf("%d", st.TotalChunks))
	_ = table.Append("Cache hits", fmt.Sprintf("%d", st.CacheHits))
	_ = table.Append("Cache misses", fmt.Sprintf("%d", st.CacheMisses))
	_ = table.Append("Cache hit ratio", fmt.Sprintf("%.1f%%", st.Cache.HitRatio*100))
	_ = table.Append("Disk reads", fmt.Sprintf("%d", st.DiskReads))
	_ = table.Append("Disk writes", fmt.Sprintf("%d", st.DiskWrites))
	_ = table.Append("Search queries", fmt.Sprintf("%d", st.SearchQueries))
	_ = table.Append("Pattern matches", fmt.Sprintf("%d", st.PatternMatches))
	_ = table.Append("Memory usage (MB)", fmt.Sprintf("%.2f", st.MemoryUsageMB))
	_ = table.Append("Patterns learned", fmt.Sprintf("%d", st.Patterns.TotalPatterns))
	_ = table.Append("Relationship edges", fmt.Sprintf("%d", st.Edges))
	_ = table.Append("Feedback received", fmt.Sprintf("%d", st.Feedback.Total))
	_ = table.Append("Compression ratio", fmt.Sprintf("%.2f", st.Storage.CompressionRatio))
	if st.Search != nil {
		_ = table.Append("Indexed documents", fmt.Sprintf("%d", st.Search.Documents))
	}
	return table.Render()
}
