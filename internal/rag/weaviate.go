package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/docpilot/internal/messages"
)

// WeaviateOptions configures the vector store connection.
type WeaviateOptions struct {
	Host   string
	Scheme string
	Class  string
}

// WeaviateSearcher runs nearText queries against a documentation class with
// filePath, title and content properties.
type WeaviateSearcher struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateSearcher connects to Weaviate. A host given as a URL overrides
// Scheme.
func NewWeaviateSearcher(opts WeaviateOptions) (*WeaviateSearcher, error) {
	cfg := weaviate.Config{Host: opts.Host, Scheme: opts.Scheme}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if rest, ok := strings.CutPrefix(opts.Host, "https://"); ok {
		cfg.Scheme, cfg.Host = "https", rest
	} else if rest, ok := strings.CutPrefix(opts.Host, "http://"); ok {
		cfg.Scheme, cfg.Host = "http", rest
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	class := opts.Class
	if class == "" {
		class = "DocChunk"
	}
	return &WeaviateSearcher{client: client, class: class}, nil
}

// Search implements Searcher.
func (s *WeaviateSearcher) Search(ctx context.Context, query string, topK int) ([]messages.RetrievedDoc, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "filePath"},
		{Name: "title"},
		{Name: "content"},
		{Name: "_additional { certainty distance }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	docs := parseDocs(result, s.class)
	log.Debug().Str("class", s.class).Int("count", len(docs)).Msg("Retrieved documentation chunks")
	return docs, nil
}

func parseDocs(result *models.GraphQLResponse, class string) []messages.RetrievedDoc {
	if result == nil {
		return nil
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return nil
	}

	docs := make([]messages.RetrievedDoc, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		doc := messages.RetrievedDoc{
			FilePath: getString(m, "filePath"),
			Title:    getString(m, "title"),
			Content:  getString(m, "content"),
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				doc.Similarity = certainty
			} else if distance, ok := additional["distance"].(float64); ok {
				doc.Similarity = 1 - distance/2
			}
		}
		if doc.FilePath == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
