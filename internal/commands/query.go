package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"fluorite-memory/internal/engine"
	"fluorite-memory/internal/types"
)

func SearchAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%s: missing <query> argument", cmd.Name)
	}
	results, err := ac.Engine.Search(ctx, engine.SearchMode(cmd.String("mode")), query, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(ac.Out, "no matches")
		return nil
	}

	table := tablewriter.NewWriter(ac.Out)
	table.Header("ID", "Type", "Score", "Quality", "Frameworks")
	for _, r := range results {
		_ = table.Append(
			string(r.Chunk.ID),
			string(r.Chunk.Type),
			fmt.Sprintf("%.3f", r.Score),
			fmt.Sprintf("%.2f", r.Chunk.QualityScore),
			strings.Join(r.Chunk.Metadata.Frameworks, ","),
		)
	}
	return table.Render()
}

func SimilarAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	id, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}
	matches, err := ac.Engine.FindSimilarByID(ctx, types.ChunkID(id), cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintln(ac.Out, "no similar chunks")
		return nil
	}

	table := tablewriter.NewWriter(ac.Out)
	table.Header("ID", "Score", "Kind", "Frameworks")
	for _, m := range matches {
		_ = table.Append(
			string(m.Chunk.ID),
			fmt.Sprintf("%.3f", m.Score),
			string(m.Kind),
			strings.Join(m.Chunk.Metadata.Frameworks, ","),
		)
	}
	return table.Render()
}

func FrameworkAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	name, err := requireArg(cmd, "framework")
	if err != nil {
		return err
	}
	chunks, err := ac.Engine.GetFrameworkChunks(ctx, name)
	if err != nil {
		return err
	}
	return renderChunks(ac.Out, chunks)
}

func PatternAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	name, err := requireArg(cmd, "pattern")
	if err != nil {
		return err
	}
	chunks, err := ac.Engine.GetPatternChunks(ctx, name)
	if err != nil {
		return err
	}
	return renderChunks(ac.Out, chunks)
}

func IntegrationsAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	args := cmd.Args()
	first, second := args.Get(0), args.Get(1)
	if first == "" || second == "" {
		first, second = "nextjs", "laravel"
	}
	recs, err := ac.Engine.RecommendIntegrations(ctx, first, second, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(ac.Out, "no %s + %s integrations recorded\n", first, second)
		return nil
	}

	table := tablewriter.NewWriter(ac.Out)
	table.Header("ID", "Combination", "Score", "Quality", "Recency", "Confidence")
	for _, r := range recs {
		_ = table.Append(
			string(r.Chunk.ID),
			r.Combination,
			fmt.Sprintf("%.3f", r.Score),
			fmt.Sprintf("%.2f", r.Quality),
			fmt.Sprintf("%.2f", r.Recency),
			fmt.Sprintf("%.2f", r.Confidence),
		)
	}
	return table.Render()
}

func renderChunks(w io.Writer, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		fmt.Fprintln(w, "no chunks")
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Type", "Quality", "Uses", "Patterns")
	for _, c := range chunks {
		_ = table.Append(
			string(c.ID),
			string(c.Type),
			fmt.Sprintf("%.2f", c.QualityScore),
			fmt.Sprintf("%d", c.Metadata.UsageCount),
			strings.Join(c.Metadata.Patterns, ","),
		)
	}
	return table.Render()
}
