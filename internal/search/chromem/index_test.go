package chromem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluorite-memory/internal/search"
	"fluorite-memory/internal/types"
)

func codeChunk(id, code, framework string, patterns ...string) *types.Chunk {
	c := types.NewChunk(types.ChunkID(id), types.TypeComponent, &types.CodeContent{
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

func seeded(t *testing.T) (*Index, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "search")
	idx, err := Open(dir, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	ctx := context.Background()
	require.NoError(t, idx.IndexChunk(ctx, codeChunk("react-counter",
		"const [count, setCount] = useState(0); useEffect(() => {}, [count])", "React", "hooks")))
	require.NoError(t, idx.IndexChunk(ctx, codeChunk("laravel-posts",
		"class PostController extends Controller { public function index() { return Post::all(); } }", "Laravel", "controller")))
	require.NoError(t, idx.IndexChunk(ctx, codeChunk("next-page",
		"export async function getServerSideProps() { return { props: {} } }", "NextJS", "ssr")))
	return idx, dir
}

func TestSearchRanksMatchingChunkFirst(t *testing.T) {
	idx, _ := seeded(t)
	hits, err := idx.Search(context.Background(), "useState useEffect", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, types.ChunkID("react-counter"), hits[0].ID)

	hits, err = idx.Search(context.Background(), "PostController", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, types.ChunkID("laravel-posts"), hits[0].ID)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	idx, _ := seeded(t)
	_, err := idx.Search(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, search.ErrEmptyQuery)
	_, err = idx.FuzzySearch(context.Background(), "", 5)
	assert.ErrorIs(t, err, search.ErrEmptyQuery)
}

func TestSearchLimitBeyondCount(t *testing.T) {
	idx, _ := seeded(t)
	hits, err := idx.SearchByFramework(context.Background(), "react", 50)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, types.ChunkID("react-counter"), hits[0].ID)
}

func TestSearchByFrameworkAndPattern(t *testing.T) {
	idx, _ := seeded(t)
	ctx := context.Background()

	hits, err := idx.SearchByFramework(ctx, " NextJS ", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, types.ChunkID("next-page"), hits[0].ID)

	hits, err = idx.SearchByPattern(ctx, "controller", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, types.ChunkID("laravel-posts"), hits[0].ID)

	hits, err = idx.SearchByFramework(ctx, "django", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFuzzySearchToleratesTypos(t *testing.T) {
	idx, _ := seeded(t)
	hits, err := idx.FuzzySearch(context.Background(), "useStat", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, types.ChunkID("react-counter"), hits[0].ID)
}

func TestRemoveAndReindex(t *testing.T) {
	idx, _ := seeded(t)
	ctx := context.Background()

	require.NoError(t, idx.RemoveChunk(ctx, "react-counter"))
	require.NoError(t, idx.RemoveChunk(ctx, "missing"))
	assert.Equal(t, 2, idx.Stats().Documents)

	hits, err := idx.SearchByFramework(ctx, "react", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Re-indexing the same id replaces the document.
	c := codeChunk("laravel-posts", "Route::get('/posts', [PostController::class, 'index'])", "Laravel", "routing")
	require.NoError(t, idx.IndexChunk(ctx, c))
	assert.Equal(t, 2, idx.Stats().Documents)
	hits, err = idx.SearchByPattern(ctx, "controller", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexChunkWithoutText(t *testing.T) {
	idx, _ := seeded(t)
	c := types.NewChunk("blob", types.TypeConfiguration, &types.BinaryContent{})
	require.NoError(t, idx.IndexChunk(context.Background(), c))
	assert.Equal(t, 4, idx.Stats().Documents)
}

func TestPersistsAcrossReopen(t *testing.T) {
	idx, dir := seeded(t)
	require.NoError(t, idx.Close())

	again, err := Open(dir, Options{})
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 3, again.Stats().Documents)

	hits, err := again.SearchByFramework(context.Background(), "laravel", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestOptimizeWritesSnapshotAndResetClears(t *testing.T) {
	idx, dir := seeded(t)
	ctx := context.Background()

	require.NoError(t, idx.Commit(ctx))
	require.NoError(t, idx.Optimize(ctx))
	_, err := os.Stat(filepath.Join(dir, snapshotName))
	assert.NoError(t, err)

	require.NoError(t, idx.Reset(ctx))
	st := idx.Stats()
	assert.Equal(t, 0, st.Documents)
	assert.Equal(t, DefaultDim, st.Dim)

	hits, err := idx.Search(ctx, "useState", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.EqualValues(t, 1, idx.Stats().Queries)
}

func TestClosedIndexRejectsWrites(t *testing.T) {
	idx, _ := seeded(t)
	require.NoError(t, idx.Close())
	assert.Error(t, idx.IndexChunk(context.Background(), codeChunk("x", "x", "")))
	_, err := idx.Search(context.Background(), "x", 1)
	assert.Error(t, err)
	assert.Error(t, idx.Reset(context.Background()))
}

func TestMinScoreOption(t *testing.T) {
	dir := t.TempDir()
	def, err := Open(filepath.Join(dir, "default"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = def.Close() })
	assert.Equal(t, float32(DefaultMinScore), def.minScore)

	zero, err := Open(filepath.Join(dir, "zero"), Options{MinScore: mo.Some[float32](0)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = zero.Close() })
	assert.Zero(t, zero.minScore)
}

func TestMinScoreBelowZeroKeepsEveryHit(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "search"), Options{MinScore: mo.Some[float32](-1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	ctx := context.Background()
	require.NoError(t, idx.IndexChunk(ctx, codeChunk("a", "const [count, setCount] = useState(0)", "React")))
	require.NoError(t, idx.IndexChunk(ctx, codeChunk("b", "Route::get('/posts', fn () => Post::all());", "Laravel")))

	hits, err := idx.Search(ctx, "kubernetes ingress yaml", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestHashEmbedder(t *testing.T) {
	e := HashEmbedder{Dim: 64}
	assert.Nil(t, e.Vector("  ... "))
	a := e.Vector("useState hook")
	b := e.Vector("useState hook")
	require.Len(t, a, 64)
	assert.Equal(t, a, b)

	v, err := e.Func()(context.Background(), "!!")
	require.NoError(t, err)
	assert.Equal(t, float32(1), v[0])
	assert.Equal(t, []string{"^ab", "ab$"}, trigrams("ab"))
}
