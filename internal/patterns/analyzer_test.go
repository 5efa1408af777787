package patterns

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluorite-memory/internal/storage"
	"fluorite-memory/internal/types"
)

func newTestAnalyzer(t *testing.T, cfg Config) (*Analyzer, *storage.HybridStore) {
	t.Helper()
	store, err := storage.NewHybridStore(t.TempDir(), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	a, err := New(cfg, store, Options{})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, store
}

func codeChunk(id, code, framework string, patterns ...string) *types.Chunk {
	c := types.NewChunk(types.ChunkID(id), types.TypePattern, &types.CodeContent{
		Language:  "typescript",
		Code:      code,
		Framework: framework,
	})
	if framework != "" {
		c.Metadata.Frameworks = []string{framework}
	}
	c.Metadata.Patterns = patterns
	return c
}

func storeAndAnalyze(t *testing.T, a *Analyzer, s *storage.HybridStore, chunks ...*types.Chunk) {
	t.Helper()
	for _, c := range chunks {
		_, err := s.StoreChunk(c)
		require.NoError(t, err)
		require.NoError(t, a.AnalyzeChunk(c))
	}
}

func patternIDs(ps []CodePattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestAnalyzeExtractsCodePatterns(t *testing.T) {
	a, _ := newTestAnalyzer(t, DefaultConfig())
	c := codeChunk("c1", "export default function Component() { return <div>Hello</div>; }", "nextjs")

	require.NoError(t, a.AnalyzeChunk(c))

	ids := patternIDs(a.CodePatterns())
	assert.Contains(t, ids, "default-export")
	assert.Contains(t, ids, "export-function")
	assert.NotContains(t, ids, "arrow-function")
	assert.ElementsMatch(t, ids, a.ChunkPatterns("c1"))

	for _, p := range a.CodePatterns() {
		if p.ID == "default-export" {
			assert.Equal(t, PatternModule, p.Type)
			assert.InDelta(t, 0.95, p.Confidence, 1e-6)
			assert.Equal(t, []string{"nextjs"}, p.Frameworks)
			assert.Equal(t, []types.ChunkID{"c1"}, p.Examples)
		}
	}

	st := a.Stats()
	assert.Equal(t, uint64(1), st.TotalPatterns)
	assert.Equal(t, uint64(1), st.FrameworkPatterns["nextjs"])
	assert.Equal(t, uint64(1), st.PatternTypes[PatternModule])
}

func TestNextjsDetectors(t *testing.T) {
	a, _ := newTestAnalyzer(t, DefaultConfig())
	require.NoError(t, a.AnalyzeChunk(codeChunk("ssr",
		"export async function getServerSideProps() { return { props: {} }; }", "nextjs")))
	require.NoError(t, a.AnalyzeChunk(codeChunk("api",
		"export default function handler(req: NextApiRequest, res: NextApiResponse) {}", "nextjs")))
	// Same keyword without the framework tag is not a Next.js pattern.
	require.NoError(t, a.AnalyzeChunk(codeChunk("plain",
		"export async function getStaticProps() {}", "")))

	assert.Contains(t, a.ChunkPatterns("ssr"), "nextjs-server-side-rendering")
	assert.Contains(t, a.ChunkPatterns("api"), "nextjs-api-route")
	assert.NotContains(t, a.ChunkPatterns("plain"), "nextjs-static-site-generation")
}

func TestFrameworkPatterns(t *testing.T) {
	a, _ := newTestAnalyzer(t, DefaultConfig())
	page := codeChunk("page", "// pages/index.tsx\nexport default function Home() {}", "nextjs")
	ctrl := types.NewChunk("ctrl", types.TypeComponent, &types.CodeContent{
		Language: "php",
		Code:     "<?php\nclass UserController extends Controller {}",
	})
	ctrl.Metadata.Frameworks = []string{"Laravel"}

	require.NoError(t, a.AnalyzeChunk(page))
	require.NoError(t, a.AnalyzeChunk(ctrl))

	fps := a.FrameworkPatterns()
	require.Len(t, fps, 2)
	assert.Equal(t, "laravel-controller-ctrl", fps[0].ID)
	assert.Equal(t, "Controller", fps[0].PatternName)
	assert.Equal(t, "nextjs-page-page", fps[1].ID)
	assert.Equal(t, "Page Component", fps[1].PatternName)
	assert.Equal(t, []string{"react", "next"}, fps[1].Dependencies)

	assert.Contains(t, a.ChunkPatterns("ctrl"), "php-class")
}

func TestLanguageFromFilePath(t *testing.T) {
	a, _ := newTestAnalyzer(t, DefaultConfig())
	c := types.NewChunk("php", types.TypeComponent, &types.CodeContent{
		Code: "<?php\nnamespace App\\Http\\Controllers;\n\nclass UserController extends Controller\n{\n}\n",
	})
	c.Metadata.FilePath = "app/Http/Controllers/UserController.php"

	require.NoError(t, a.AnalyzeChunk(c))
	assert.ElementsMatch(t, []string{"php-class", "php-namespace"}, a.ChunkPatterns("php"))
}

func TestReanalyzeReplacesMemberships(t *testing.T) {
	a, _ := newTestAnalyzer(t, DefaultConfig())
	c := codeChunk("c", "export default function Page() {} // pages/", "nextjs")
	require.NoError(t, a.AnalyzeChunk(c))
	assert.Equal(t, []types.ChunkID{"c"}, a.FrameworkChunks("nextjs"))

	c.Metadata.Frameworks = []string{"remix"}
	c.Content = &types.CodeContent{Language: "typescript", Code: "export const loader = () => null"}
	require.NoError(t, a.AnalyzeChunk(c))

	assert.Empty(t, a.FrameworkChunks("nextjs"))
	assert.Equal(t, []types.ChunkID{"c"}, a.FrameworkChunks("remix"))
	assert.Empty(t, a.FrameworkPatterns())
}

func TestFindSimilarReactHookScenario(t *testing.T) {
	a, s := newTestAnalyzer(t, DefaultConfig())
	chunkA := codeChunk("A",
		"export function useCounter() { const [count, setCount] = useState(0); return [count, setCount]; }",
		"react", "hook")
	chunkB := codeChunk("B",
		"export function useCounter() { const [count, setCount] = useState(1); return [count, setCount]; }",
		"react", "hook")
	unrelated := types.NewChunk("C", types.TypeConfiguration, &types.ConfigContent{Format: "yaml", Content: "port: 8080"})
	storeAndAnalyze(t, a, s, chunkA, chunkB, unrelated)

	matches, err := a.FindSimilar(context.Background(), chunkA, 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	assert.Equal(t, types.ChunkID("B"), matches[0].Chunk.ID)
	assert.GreaterOrEqual(t, matches[0].Score, a.Config().Threshold)
	assert.Contains(t, []types.SimilarityKind{types.SimilarityContent, types.SimilarityStructural}, matches[0].Kind)
	for _, m := range matches {
		assert.NotEqual(t, types.ChunkID("A"), m.Chunk.ID)
		assert.NotEqual(t, types.ChunkID("C"), m.Chunk.ID)
	}
	assert.Equal(t, uint64(1), a.Stats().SimilarityCalculations)
}

func TestFindSimilarBoundsAndOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 0
	a, s := newTestAnalyzer(t, cfg)
	var all []*types.Chunk
	for i := 0; i < 12; i++ {
		fw := "react"
		if i%3 == 0 {
			fw = "vue"
		}
		c := codeChunk(fmt.Sprintf("c%02d", i), fmt.Sprintf("export const item%d = () => %d", i%4, i), fw, "component")
		all = append(all, c)
	}
	storeAndAnalyze(t, a, s, all...)

	for _, probe := range all[:3] {
		matches, err := a.FindSimilar(context.Background(), probe, 5)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(matches), 5)
		for i, m := range matches {
			assert.NotEqual(t, probe.ID, m.Chunk.ID)
			assert.GreaterOrEqual(t, m.Score, float32(0))
			assert.LessOrEqual(t, m.Score, float32(1))
			if i > 0 {
				assert.GreaterOrEqual(t, matches[i-1].Score, m.Score)
			}
		}
	}

	none, err := a.FindSimilar(context.Background(), all[0], 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindSimilarUsesEmbeddingNeighbours(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandidateLimit = 1
	a, s := newTestAnalyzer(t, cfg)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		d := types.NewChunk(types.ChunkID(fmt.Sprintf("noise%d", i)), types.TypeDocumentation,
			&types.DocumentationContent{Format: "markdown", Content: fmt.Sprintf("note %d", i)})
		d.Metadata.LastAccessed = base.Add(time.Duration(i+10) * time.Hour)
		storeAndAnalyze(t, a, s, d)
	}

	neighbour := codeChunk("near", "SELECT * FROM users", "")
	neighbour.Embedding = types.Vector{0.9, 0.1, 0}
	neighbour.Metadata.LastAccessed = base
	storeAndAnalyze(t, a, s, neighbour)

	probe := codeChunk("probe", "SELECT * FROM users", "")
	probe.Embedding = types.Vector{1, 0, 0}

	matches, err := a.FindSimilar(context.Background(), probe, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, types.ChunkID("near"), matches[0].Chunk.ID)
	// Identical text outscores the near-identical embedding.
	assert.Equal(t, types.SimilarityContent, matches[0].Kind)
}

func TestScoresAndDominantKind(t *testing.T) {
	a, _ := newTestAnalyzer(t, DefaultConfig())
	assert.InDelta(t, 1.0, WeightContent+WeightStructural+WeightSemantic+WeightFramework, 1e-9)

	x := codeChunk("x", "alpha beta", "react", "hook")
	y := codeChunk("y", "gamma delta", "vue", "store")
	x.Embedding = types.Vector{1, 0}
	y.Embedding = types.Vector{1, 0}
	s := a.Score(x, y)
	assert.True(t, s.BothEmbedded)
	assert.InDelta(t, 1.0, s.Semantic, 1e-6)
	assert.Zero(t, s.Framework)
	assert.Equal(t, types.SimilaritySemantic, s.Dominant())

	// Opposite embeddings clamp to zero rather than going negative.
	y.Embedding = types.Vector{-1, 0}
	assert.Zero(t, a.Score(x, y).Semantic)

	cases := []struct {
		name   string
		scores Scores
		want   types.SimilarityKind
	}{
		{"content fallback never wins as semantic", Scores{Content: 0.9, Semantic: 0.9, Structural: 0.5}, types.SimilarityContent},
		{"structural beats framework on tie", Scores{Content: 0.2, Structural: 1, Framework: 1, Semantic: 0.2}, types.SimilarityStructural},
		{"framework", Scores{Content: 0.1, Structural: 0.5, Framework: 0.7, Semantic: 0.1}, types.SimilarityFramework},
		{"embedded semantic", Scores{Content: 0.1, Structural: 0.5, Semantic: 0.8, BothEmbedded: true}, types.SimilaritySemantic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.scores.Dominant())
		})
	}

	full := Scores{Content: 1, Structural: 1, Semantic: 1, Framework: 1}
	assert.InDelta(t, 1.0, full.Combined(), 1e-6)
}

func TestContentSimilarity(t *testing.T) {
	a, _ := newTestAnalyzer(t, DefaultConfig())
	c1 := codeChunk("1", "export const func = () => {}", "react", "function")
	c2 := codeChunk("2", "export const func = () => {}", "react", "function")
	c3 := codeChunk("3", "import { useState } from 'react'", "react", "function")

	assert.Greater(t, a.Score(c1, c2).Content, float32(0.8))
	assert.Less(t, a.Score(c1, c3).Content, float32(0.5))
	assert.Equal(t, float32(1), a.Score(c1, c3).Framework)
}

func TestFeedback(t *testing.T) {
	a, _ := newTestAnalyzer(t, DefaultConfig())
	c := codeChunk("fb", "export default function X() {}", "nextjs")
	require.NoError(t, a.AnalyzeChunk(c))

	confidence := func() float32 {
		for _, p := range a.CodePatterns() {
			if p.ID == "export-function" {
				return p.Confidence
			}
		}
		t.Fatal("pattern missing")
		return 0
	}
	start := confidence()

	assert.InDelta(t, 0.1, a.UpdateFromFeedback("fb", types.Feedback{Type: types.FeedbackHelpful}), 1e-6)
	assert.InDelta(t, start+0.1, confidence(), 1e-6)

	assert.InDelta(t, -0.2, a.UpdateFromFeedback("fb", types.Feedback{Type: types.FeedbackHasErrors}), 1e-6)
	assert.InDelta(t, -0.05, a.UpdateFromFeedback("fb", types.Feedback{Type: types.FeedbackNeedsImprovement}), 1e-6)
	assert.InDelta(t, -0.1, a.UpdateFromFeedback("other", types.Feedback{Type: types.FeedbackNotHelpful}), 1e-6)
	assert.Zero(t, a.UpdateFromFeedback("fb", types.Feedback{Type: types.FeedbackOutdated}))
	assert.Zero(t, a.UpdateFromFeedback("fb", types.Feedback{Type: types.CustomFeedback("meh")}))

	st := a.FeedbackStats()
	assert.Equal(t, uint64(6), st.Total)
	assert.Equal(t, uint64(1), st.Helpful)
	assert.Equal(t, uint64(1), st.NotHelpful)
	assert.Equal(t, uint64(1), st.Improvements)
	assert.Equal(t, uint64(1), st.ErrorReports)
	assert.InDelta(t, 1.0/6.0, st.Accuracy, 1e-9)
	assert.InDelta(t, -0.25, st.WeightAdjustment, 1e-6)

	// Confidence stays within [0,1].
	for i := 0; i < 20; i++ {
		a.UpdateFromFeedback("fb", types.Feedback{Type: types.FeedbackHasErrors})
	}
	assert.Zero(t, confidence())
}

func TestFrameworkCombinations(t *testing.T) {
	a, _ := newTestAnalyzer(t, DefaultConfig())
	mk := func(id string, fws ...string) *types.Chunk {
		c := types.NewChunk(types.ChunkID(id), types.TypeAPIIntegration, &types.CodeContent{Language: "typescript", Code: "fetch('/api')"})
		c.Metadata.Frameworks = fws
		return c
	}
	require.NoError(t, a.AnalyzeChunk(mk("i1", "nextjs", "laravel")))
	require.NoError(t, a.AnalyzeChunk(mk("i2", "Laravel", "NextJS")))
	require.NoError(t, a.AnalyzeChunk(mk("i3", "nextjs", "express")))
	require.NoError(t, a.AnalyzeChunk(mk("solo", "nextjs")))

	combos := a.NextjsLaravelPatterns()
	require.Len(t, combos, 1)
	assert.Equal(t, "nextjs-laravel integration", combos[0].PatternName)
	assert.ElementsMatch(t, []types.ChunkID{"i1", "i2"}, combos[0].Chunks)
	assert.Equal(t, uint64(2), combos[0].UsageFrequency)
	assert.InDelta(t, 0.8, combos[0].Confidence, 1e-6)

	assert.Len(t, a.FrameworkCombinations("express", "nextjs"), 1)
	assert.Empty(t, a.FrameworkCombinations("express", "laravel"))
	assert.Len(t, a.FrameworkChunks("nextjs"), 4)

	a.Forget("i1")
	combos = a.NextjsLaravelPatterns()
	require.Len(t, combos, 1)
	assert.Equal(t, []types.ChunkID{"i2"}, combos[0].Chunks)
	assert.Len(t, a.FrameworkChunks("nextjs"), 3)
}

func TestRecordMatchesAndForget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRelationships = 2
	a, _ := newTestAnalyzer(t, cfg)

	matches := []types.SimilarityMatch{
		{Chunk: codeChunk("m1", "x", ""), Score: 0.7},
		{Chunk: codeChunk("m2", "x", ""), Score: 0.9},
		{Chunk: codeChunk("m3", "x", ""), Score: 0.8},
		{Chunk: codeChunk("src", "x", ""), Score: 1},
	}
	assert.Equal(t, 2, a.RecordMatches("src", matches))

	edges := a.Relationships("src")
	require.Len(t, edges, 2)
	assert.Equal(t, types.ChunkID("m2"), edges[0].Target)
	assert.Equal(t, types.ChunkID("m3"), edges[1].Target)
	assert.Equal(t, types.RelSimilar, edges[0].Type)
	assert.Equal(t, 2, a.EdgeCount())

	a.Forget("m2")
	edges = a.Relationships("src")
	require.Len(t, edges, 1)
	assert.Equal(t, types.ChunkID("m3"), edges[0].Target)
}

func TestRebuildRelationships(t *testing.T) {
	a, s := newTestAnalyzer(t, DefaultConfig())
	chunkA := codeChunk("A", "export function useToggle() { const [on, setOn] = useState(false); return [on, setOn]; }", "react", "hook")
	chunkB := codeChunk("B", "export function useToggle() { const [on, setOn] = useState(true); return [on, setOn]; }", "react", "hook")
	combo := types.NewChunk("combo", types.TypeAPIIntegration, &types.CodeContent{Language: "php", Code: "class ApiController {}"})
	combo.Metadata.Frameworks = []string{"nextjs", "laravel"}
	for _, c := range []*types.Chunk{chunkA, chunkB, combo} {
		_, err := s.StoreChunk(c)
		require.NoError(t, err)
	}

	// Stale state is discarded.
	require.NoError(t, a.AnalyzeChunk(codeChunk("ghost", "x", "svelte")))

	report, err := a.RebuildRelationships(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 1, report.Combinations)
	assert.GreaterOrEqual(t, report.Edges, 2)

	assert.Empty(t, a.FrameworkChunks("svelte"))
	assert.ElementsMatch(t, []types.ChunkID{"A", "B"}, a.FrameworkChunks("react"))
	assert.Len(t, a.NextjsLaravelPatterns(), 1)

	edges := a.Relationships("A")
	require.NotEmpty(t, edges)
	assert.Equal(t, types.ChunkID("B"), edges[0].Target)
	assert.Equal(t, uint64(3), a.Stats().TotalPatterns)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.RebuildRelationships(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsNilSource(t *testing.T) {
	_, err := New(DefaultConfig(), nil, Options{})
	assert.Error(t, err)
}
