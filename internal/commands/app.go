package commands

import (
	"github.com/urfave/cli/v3"
)

func limitFlag() cli.Flag {
	return &cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "maximum number of results", Value: 10}
}

// App builds the fluorite command tree.
func App() *cli.Command {
	return &cli.Command{
		Name:  "fluorite",
		Usage: "learning pattern memory for code chunks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment file path",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "data",
				Usage: "storage directory (overrides FLUORITE_DATA)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides FLUORITE_LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json (overrides FLUORITE_LOG_FORMAT)",
			},
			&cli.BoolFlag{
				Name:  "no-search",
				Usage: "disable the full-text search index",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "listen address (overrides FLUORITE_ADDR)",
					},
				},
				Action: withApp(ServeAction),
			},
			{
				Name:      "store",
				Usage:     "store chunks from JSON files or stdin",
				ArgsUsage: "[file ...]",
				Action:    withApp(StoreAction),
			},
			{
				Name:      "update",
				Usage:     "replace existing chunks from JSON files or stdin",
				ArgsUsage: "[file ...]",
				Action:    withApp(UpdateAction),
			},
			{
				Name:      "get",
				Usage:     "print a chunk as JSON",
				ArgsUsage: "<id>",
				Action:    withApp(GetAction),
			},
			{
				Name:      "delete",
				Usage:     "delete a chunk",
				ArgsUsage: "<id>",
				Action:    withApp(DeleteAction),
			},
			{
				Name:      "search",
				Usage:     "full-text search",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					limitFlag(),
					&cli.StringFlag{
						Name:  "mode",
						Usage: "text, fuzzy, framework or pattern",
						Value: "text",
					},
				},
				Action: withApp(SearchAction),
			},
			{
				Name:      "similar",
				Usage:     "find chunks similar to a stored chunk",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{limitFlag()},
				Action:    withApp(SimilarAction),
			},
			{
				Name:      "framework",
				Usage:     "list chunks tagged with a framework",
				ArgsUsage: "<framework>",
				Action:    withApp(FrameworkAction),
			},
			{
				Name:      "pattern",
				Usage:     "list chunks tagged with a pattern",
				ArgsUsage: "<pattern>",
				Action:    withApp(PatternAction),
			},
			{
				Name:      "integrations",
				Usage:     "recommend chunks that combine two frameworks",
				ArgsUsage: "[first second]",
				Flags:     []cli.Flag{limitFlag()},
				Action:    withApp(IntegrationsAction),
			},
			{
				Name:      "feedback",
				Usage:     "record feedback on a chunk",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "type",
						Usage:    "helpful, not_helpful, needs_improvement, outdated, has_errors or custom:<label>",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "user",
						Usage: "user id",
						Value: "cli",
					},
					&cli.StringFlag{
						Name:  "comment",
						Usage: "free-form comment",
					},
				},
				Action: withApp(FeedbackAction),
			},
			{
				Name:   "optimize",
				Usage:  "compact storage and rebuild the relationship graph",
				Action: withApp(OptimizeAction),
			},
			{
				Name:   "reindex",
				Usage:  "rebuild the search index from storage",
				Action: withApp(ReindexAction),
			},
			{
				Name:  "stats",
				Usage: "show engine statistics",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "print as JSON",
					},
				},
				Action: withApp(StatsAction),
			},
		},
	}
}
