package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/models"
	"stratis-backend/internal/pipeline"
	"stratis-backend/internal/resilience"
)

// ReferenceResolver turns a request's reference material into plain text.
type ReferenceResolver interface {
	Resolve(ctx context.Context, ref *models.Reference) (string, error)
}

// GeminiService is the text backend of the generation pipeline plus the
// standalone idea and repurposing calls.
type GeminiService struct {
	client    *genai.Client
	modelName string
	refs      ReferenceResolver
	log       *logger.Logger
	rateChan  chan struct{} // Token bucket
}

func NewGeminiService(apiKey, modelName string, concurrentReqs int, refs ReferenceResolver, log *logger.Logger) (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}
	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		client:    client,
		modelName: modelName,
		refs:      refs,
		log:       log,
		rateChan:  rateChan,
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// model returns a fresh model handle so per-call schema settings never race.
func (s *GeminiService) model(temperature float32, schema *genai.Schema) *genai.GenerativeModel {
	m := s.client.GenerativeModel(s.modelName)
	m.SetTemperature(temperature)
	m.SetTopP(0.95)
	if schema != nil {
		m.ResponseMIMEType = "application/json"
		m.ResponseSchema = schema
	}
	return m
}

func (s *GeminiService) generate(ctx context.Context, m *genai.GenerativeModel, prompt string) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop && cand.FinishReason != genai.FinishReasonUnspecified {
			s.log.Warn("Gemini stopped early", "candidate", i, "finish_reason", cand.FinishReason.String())
		}
	}
	text := extractText(resp)
	if strings.TrimSpace(text) == "" {
		return "", resilience.Malformed("gemini", "empty response")
	}
	return text, nil
}

// Research implements pipeline.Backend.
func (s *GeminiService) Research(ctx context.Context, in pipeline.ResearchInput) (*models.ResearchData, error) {
	reference := ""
	if !in.Reference.IsZero() {
		if s.refs == nil {
			return nil, &ReferenceError{Message: "Reference material is not enabled on this server."}
		}
		text, err := s.refs.Resolve(ctx, in.Reference)
		if err != nil {
			return nil, err
		}
		reference = text
	}

	raw, err := s.generate(ctx, s.model(0.4, researchSchema()), buildResearchPrompt(in.Topic, reference))
	if err != nil {
		return nil, err
	}
	return parseResearch(raw)
}

// Plan implements pipeline.Backend.
func (s *GeminiService) Plan(ctx context.Context, in pipeline.PlanInput) (*models.ArticlePlan, error) {
	temperature := float32(0.7)
	if in.Regenerate {
		temperature = 1.0
	}
	raw, err := s.generate(ctx, s.model(temperature, planSchema()), buildPlanPrompt(in))
	if err != nil {
		return nil, err
	}
	return parsePlan(raw, in.Research, in.SEOKeyword)
}

// StreamContent implements pipeline.Backend. The rate slot is held until the
// stream is closed.
func (s *GeminiService) StreamContent(ctx context.Context, in pipeline.ContentInput) (pipeline.ContentStream, error) {
	if err := s.acquireRate(ctx); err != nil {
		return nil, err
	}
	temperature := float32(0.8)
	if in.Regenerate {
		temperature = 1.0
	}
	it := s.model(temperature, nil).GenerateContentStream(ctx, genai.Text(buildContentPrompt(in)))
	return &geminiStream{it: it, release: s.releaseRate}, nil
}

type geminiStream struct {
	it      *genai.GenerateContentResponseIterator
	release func()
	once    sync.Once
}

func (g *geminiStream) Next() (string, error) {
	for {
		resp, err := g.it.Next()
		if errors.Is(err, iterator.Done) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if text := extractText(resp); text != "" {
			return text, nil
		}
	}
}

func (g *geminiStream) Close() error {
	g.once.Do(g.release)
	return nil
}

func (s *GeminiService) FindKeywords(ctx context.Context, topic string) ([]models.KeywordSuggestion, error) {
	schema := &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"keyword": {Type: genai.TypeString},
				"type":    {Type: genai.TypeString, Description: "'Primary' or 'Secondary'"},
				"intent":  {Type: genai.TypeString, Description: "The likely user search intent."},
			},
			Required: []string{"keyword", "type", "intent"},
		},
	}
	raw, err := s.generate(ctx, s.model(0.5, schema), buildKeywordsPrompt(topic))
	if err != nil {
		return nil, err
	}
	return parseKeywords(raw)
}

func (s *GeminiService) ExploreTopicIdeas(ctx context.Context, topic string) ([]models.TopicIdea, error) {
	schema := &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title":    {Type: genai.TypeString, Description: "A catchy, SEO-friendly title for the article."},
				"angle":    {Type: genai.TypeString, Description: "A short (1-2 sentence) description of the unique angle or focus of the article."},
				"keywords": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "A list of 3-5 relevant SEO keywords."},
			},
			Required: []string{"title", "angle", "keywords"},
		},
	}
	raw, err := s.generate(ctx, s.model(0.9, schema), buildTopicIdeasPrompt(topic))
	if err != nil {
		return nil, err
	}
	return parseTopicIdeas(raw)
}

// Repurpose rewrites a finished article for a short-form target.
func (s *GeminiService) Repurpose(ctx context.Context, article *models.Article, target string) (string, error) {
	raw, err := s.generate(ctx, s.model(0.8, nil), buildRepurposePrompt(article.Title, article.BodyContent, target))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

func researchSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"history":        {Type: genai.TypeString, Description: "A summary of the topic's history."},
			"facts":          {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "A list of quirky or little-known facts."},
			"misconceptions": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "A list of common misconceptions or urban myths."},
			"sources": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"uri":   {Type: genai.TypeString},
						"title": {Type: genai.TypeString},
					},
					Required: []string{"uri", "title"},
				},
			},
		},
		Required: []string{"history", "facts", "misconceptions"},
	}
}

func planSchema() *genai.Schema {
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }
	strList := func() *genai.Schema { return &genai.Schema{Type: genai.TypeArray, Items: str()} }

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":    str(),
			"hashtags": strList(),
			"links": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: map[string]*genai.Schema{"text": str(), "url": str()},
					Required:   []string{"text", "url"},
				},
			},
			"visualPrompts": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: map[string]*genai.Schema{"placeholder": str(), "type": str(), "prompt": str()},
					Required:   []string{"placeholder", "type", "prompt"},
				},
			},
			"seoAnalysis": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"score":           {Type: genai.TypeNumber},
					"metaDescription": str(),
					"relatedKeywords": strList(),
					"readability": {
						Type:       genai.TypeObject,
						Properties: map[string]*genai.Schema{"level": str(), "notes": str()},
						Required:   []string{"level", "notes"},
					},
					"checklist": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type:       genai.TypeObject,
							Properties: map[string]*genai.Schema{"check": str(), "status": str(), "recommendation": str()},
							Required:   []string{"check", "status", "recommendation"},
						},
					},
				},
			},
		},
		Required: []string{"title", "hashtags", "links", "visualPrompts"},
	}
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
