// Package rag answers natural-language questions over the ingested knowledge
// base: embed the question, retrieve the closest chunks by cosine distance,
// and generate an answer grounded strictly in the retrieved context.
//
// The service is read-only and safe for unbounded concurrent callers.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/koopa0/vitalia-kb/internal/document"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 5

// NotFoundAnswer is returned verbatim when retrieval yields nothing.
const NotFoundAnswer = "I could not find relevant information in the knowledge base to answer this question."

const systemPrompt = "You are the Vitalia assistant, part of a health platform. " +
	"Answer the user's question based STRICTLY on the context provided below. " +
	"If the answer is not in the context, say you do not know. " +
	"Cite the sources when possible."

// Embedder produces the query embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator runs the answer completion.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Searcher performs the vector similarity search.
type Searcher interface {
	SearchChunks(ctx context.Context, embedding []float32, k int, threshold float64) ([]document.SearchResult, error)
}

// Source is one provenance record attached to an answer. It is derived from
// the retrieved chunks, never parsed from model output.
type Source struct {
	File    string `json:"file"`
	Page    int    `json:"page,omitempty"`
	Preview string `json:"preview"`
}

// Answer is the full response to one question.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Service wires retrieval and generation.
type Service struct {
	embedder  Embedder
	generator Generator
	searcher  Searcher
	logger    *slog.Logger
}

// NewService creates a question-answering service.
func NewService(embedder Embedder, generator Generator, searcher Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:  embedder,
		generator: generator,
		searcher:  searcher,
		logger:    logger,
	}
}

// EmbedQuery returns the embedding vector for a question.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

// Search returns the k chunks closest to the question, ascending by cosine
// distance. A positive threshold drops distant results; zero disables it.
func (s *Service) Search(ctx context.Context, question string, k int, threshold float64) ([]document.SearchResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	embedding, err := s.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := s.searcher.SearchChunks(ctx, embedding, k, threshold)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	s.logger.Debug("retrieval complete", "question_chars", len(question), "results", len(results))
	return results, nil
}

// BuildContext renders retrieved chunks as the context block of the prompt,
// one labeled source per chunk in rank order.
func (s *Service) BuildContext(results []document.SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	parts := make([]string, 0, len(results))
	for i, r := range results {
		page := "?"
		if r.PageNumber > 0 {
			page = fmt.Sprintf("%d", r.PageNumber)
		}
		parts = append(parts, fmt.Sprintf("Source %d (%s, page %s):\n%s", i+1, r.FileName, page, r.Content))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// Ask runs the full flow: retrieve, build the prompt, generate. An empty
// retrieval short-circuits to the fixed not-found answer without calling the
// generation model.
func (s *Service) Ask(ctx context.Context, question string, k int, threshold float64) (*Answer, error) {
	results, err := s.Search(ctx, question, k, threshold)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return &Answer{Answer: NotFoundAnswer, Sources: []Source{}}, nil
	}

	prompt := fmt.Sprintf("%s\n\nCONTEXT:\n%s\n\nQUESTION:\n%s",
		systemPrompt, s.BuildContext(results), question)

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	sources := make([]Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, Source{
			File:    r.FileName,
			Page:    r.PageNumber,
			Preview: preview(r.Content),
		})
	}
	return &Answer{Answer: text, Sources: sources}, nil
}

// preview returns the first 100 runes of the chunk with an ellipsis.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= 100 {
		return content
	}
	return string(runes[:100]) + "..."
}
