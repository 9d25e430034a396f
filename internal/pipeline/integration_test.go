package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/dshills/threadqa-mcp/internal/embedder"
	"github.com/dshills/threadqa-mcp/internal/indexer"
	"github.com/dshills/threadqa-mcp/internal/llm"
	"github.com/dshills/threadqa-mcp/internal/pipeline"
	"github.com/dshills/threadqa-mcp/internal/searcher"
	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/internal/threads"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	coroRoot   = "<coro-1@lists.example.org>"
	moduleRoot = "<mod-1@lists.example.org>"
)

// recordingLLM answers every prompt with a fixed text
type recordingLLM struct {
	answer  string
	prompts []string
}

func (r *recordingLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	r.prompts = append(r.prompts, req.User)
	return &llm.Completion{Text: r.answer, Model: "recording-" + string(req.Tier)}, nil
}

func (r *recordingLLM) Name() string { return "recording" }

// AskTestSuite ingests a small archive and asks questions against it
type AskTestSuite struct {
	suite.Suite
	ctx      context.Context
	storage  *storage.SQLiteStorage
	embedder embedder.Embedder
	llm      *recordingLLM
}

// SetupTest runs before each test
func (s *AskTestSuite) SetupTest() {
	s.ctx = context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	s.Require().NoError(err)
	s.storage = store

	emb, err := embedder.NewLocalProvider(nil)
	s.Require().NoError(err)
	s.embedder = emb

	stats, err := indexer.New(store, emb).IngestPath(s.ctx, "testdata/archive.jsonl", &indexer.Config{Workers: 2})
	s.Require().NoError(err)
	s.Require().Equal(5, stats.MessagesStored)
	s.Require().Equal(2, stats.ThreadsCount)

	s.llm = &recordingLLM{answer: "John Smith pointed to P0981R0 for allocation elision."}
}

// TearDownTest runs after each test
func (s *AskTestSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
}

func (s *AskTestSuite) newPipeline(cfg searcher.Config) *pipeline.Pipeline {
	p, err := pipeline.New(pipeline.Deps{
		Retriever:   searcher.NewRetriever(s.storage, s.embedder, cfg, nil),
		Expander:    threads.NewExpander(s.storage, threads.Config{}),
		Synthesizer: llm.NewSynthesizer(s.llm, llm.SynthesizerConfig{}, nil),
	})
	s.Require().NoError(err)
	return p
}

func (s *AskTestSuite) TestAnswerCitesTheMatchingThread() {
	result, err := s.newPipeline(searcher.Config{}).Ask(s.ctx, "How is coroutine frame allocation elided?", types.Filters{})
	s.Require().NoError(err)

	s.Equal(s.llm.answer, result.Answer)
	s.NotEmpty(result.QueryID)
	s.Require().NotEmpty(result.ThreadIDs)
	s.Equal(coroRoot, result.ThreadIDs[0])
	s.Require().NotEmpty(result.Citations)
	s.Require().Len(s.llm.prompts, 1)
	s.Contains(s.llm.prompts[0], "P0981R0")

	var cited *types.Citation
	for i := range result.Citations {
		if result.Citations[i].MessageID == "<coro-2@lists.example.org>" {
			cited = &result.Citations[i]
		}
	}
	s.Require().NotNil(cited, "the reply inside the expanded thread is cited")
	s.Equal("John Smith", cited.Author)
	s.Equal("https://lists.example.org/2024-March/000002.html", cited.SourceURL)
}

func (s *AskTestSuite) TestAuthorFilterNarrowsRetrieval() {
	result, err := s.newPipeline(searcher.Config{}).Ask(s.ctx, "Should module partitions be importable?", types.Filters{Author: "alice"})
	s.Require().NoError(err)

	s.Equal([]string{moduleRoot}, result.ThreadIDs)
	for _, c := range result.Citations {
		s.Contains(c.MessageID, "<mod-")
	}
}

func (s *AskTestSuite) TestDateFilterExcludesEverything() {
	from := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	result, err := s.newPipeline(searcher.Config{}).Ask(s.ctx, "coroutine frame allocation", types.Filters{DateFrom: &from})
	s.Require().NoError(err)

	s.Empty(result.Citations)
	s.Empty(result.ThreadIDs)
	s.Empty(s.llm.prompts)
}

func (s *AskTestSuite) TestUnknownTermsSkipTheModel() {
	// A strict vector threshold leaves only the lexical branch
	result, err := s.newPipeline(searcher.Config{VectorThreshold: 0.99}).Ask(s.ctx, "zebra quantum fluxgate", types.Filters{})
	s.Require().NoError(err)

	s.Empty(result.Citations)
	s.Empty(s.llm.prompts)
}

func TestAskTestSuite(t *testing.T) {
	suite.Run(t, new(AskTestSuite))
}
