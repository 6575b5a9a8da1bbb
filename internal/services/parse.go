package services

import (
	"encoding/json"
	"strings"

	"stratis-backend/internal/models"
	"stratis-backend/internal/resilience"
)

// Wire shapes of the model's JSON output. Pointers distinguish a missing
// field from an empty one.
type researchWire struct {
	History        *string      `json:"history"`
	Facts          *[]string    `json:"facts"`
	Misconceptions *[]string    `json:"misconceptions"`
	Sources        []sourceWire `json:"sources"`
}

type sourceWire struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type planWire struct {
	Title         *string             `json:"title"`
	Hashtags      []string            `json:"hashtags"`
	Links         []linkWire          `json:"links"`
	VisualPrompts *[]visualPromptWire `json:"visualPrompts"`
	SEOAnalysis   *seoWire            `json:"seoAnalysis"`
}

type linkWire struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type visualPromptWire struct {
	Placeholder string `json:"placeholder"`
	Type        string `json:"type"`
	Prompt      string `json:"prompt"`
}

type seoWire struct {
	Score           float64  `json:"score"`
	MetaDescription string   `json:"metaDescription"`
	RelatedKeywords []string `json:"relatedKeywords"`
	Readability     struct {
		Level string `json:"level"`
		Notes string `json:"notes"`
	} `json:"readability"`
	Checklist []struct {
		Check          string `json:"check"`
		Status         string `json:"status"`
		Recommendation string `json:"recommendation"`
	} `json:"checklist"`
}

// cleanJSON strips markdown fences the model sometimes adds despite being
// asked for raw JSON.
func cleanJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}

// decodeJSON unmarshals raw, falling back to the outermost open..close span
// when the model wrapped the JSON in prose.
func decodeJSON(raw string, open, close byte, out any) bool {
	raw = cleanJSON(raw)
	if json.Unmarshal([]byte(raw), out) == nil {
		return true
	}
	start := strings.IndexByte(raw, open)
	end := strings.LastIndexByte(raw, close)
	if start == -1 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(raw[start:end+1]), out) == nil
}

func parseResearch(raw string) (*models.ResearchData, error) {
	var w researchWire
	if !decodeJSON(raw, '{', '}', &w) {
		return nil, resilience.Malformed("research", "no JSON object found")
	}
	if w.History == nil || w.Facts == nil || w.Misconceptions == nil {
		return nil, resilience.Malformed("research", "missing history, facts or misconceptions")
	}

	sources := make([]models.Source, 0, len(w.Sources))
	for _, s := range w.Sources {
		sources = append(sources, models.Source{URI: strings.TrimSpace(s.URI), Title: strings.TrimSpace(s.Title)})
	}

	return &models.ResearchData{
		History:        strings.TrimSpace(*w.History),
		Facts:          nonNil(*w.Facts),
		Misconceptions: nonNil(*w.Misconceptions),
		Sources:        dedupeSources(sources),
	}, nil
}

// parsePlan validates the required plan fields and back-fills peripheral
// ones. Sources come from research, not from the model.
func parsePlan(raw string, research *models.ResearchData, seoKeyword string) (*models.ArticlePlan, error) {
	var w planWire
	if !decodeJSON(raw, '{', '}', &w) {
		return nil, resilience.Malformed("plan", "no JSON object found")
	}
	if w.Title == nil || strings.TrimSpace(*w.Title) == "" {
		return nil, resilience.Malformed("plan", "missing title")
	}
	if w.VisualPrompts == nil {
		return nil, resilience.Malformed("plan", "missing visualPrompts")
	}

	plan := &models.ArticlePlan{
		Title:         strings.TrimSpace(*w.Title),
		Hashtags:      nonNil(w.Hashtags),
		Links:         make([]models.Link, 0, len(w.Links)),
		VisualPrompts: make([]models.VisualPrompt, 0, len(*w.VisualPrompts)),
		Sources:       []models.Source{},
	}

	for _, l := range w.Links {
		url := strings.TrimSpace(l.URL)
		if url == "" {
			url = "#"
		}
		plan.Links = append(plan.Links, models.Link{Text: strings.TrimSpace(l.Text), URL: url})
	}

	seen := make(map[string]bool)
	for _, vp := range *w.VisualPrompts {
		ph := strings.TrimSpace(vp.Placeholder)
		prompt := strings.TrimSpace(vp.Prompt)
		if ph == "" || prompt == "" {
			return nil, resilience.Malformed("plan", "visual prompt without placeholder or prompt")
		}
		if seen[ph] {
			continue
		}
		seen[ph] = true
		plan.VisualPrompts = append(plan.VisualPrompts, models.VisualPrompt{Placeholder: ph, Type: strings.TrimSpace(vp.Type), Prompt: prompt})
	}

	if w.SEOAnalysis != nil {
		plan.SEOAnalysis = normalizeSEO(w.SEOAnalysis)
	}
	if research != nil {
		plan.Sources = append(plan.Sources, research.Sources...)
	}
	if seoKeyword != "" {
		plan.SEOKeywordUsed = seoKeyword
	}
	return plan, nil
}

func normalizeSEO(w *seoWire) *models.SEOAnalysis {
	score := int(w.Score + 0.5)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	seo := &models.SEOAnalysis{
		Score:           score,
		MetaDescription: strings.TrimSpace(w.MetaDescription),
		RelatedKeywords: nonNil(w.RelatedKeywords),
		Readability:     models.Readability{Level: w.Readability.Level, Notes: w.Readability.Notes},
		Checklist:       make([]models.SEOCheck, 0, len(w.Checklist)),
	}
	for _, c := range w.Checklist {
		seo.Checklist = append(seo.Checklist, models.SEOCheck{
			Check:          c.Check,
			Status:         normalizeCheckStatus(c.Status),
			Recommendation: c.Recommendation,
		})
	}
	return seo
}

func normalizeCheckStatus(s string) models.CheckStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass", "passed":
		return models.CheckPass
	case "fail", "failed":
		return models.CheckFail
	default:
		return models.CheckNeedsImprovement
	}
}

func parseKeywords(raw string) ([]models.KeywordSuggestion, error) {
	var out []models.KeywordSuggestion
	if !decodeJSON(raw, '[', ']', &out) {
		return nil, resilience.Malformed("keywords", "no JSON array found")
	}
	valid := make([]models.KeywordSuggestion, 0, len(out))
	for _, k := range out {
		if strings.TrimSpace(k.Keyword) == "" {
			continue
		}
		if k.Type != "Primary" {
			k.Type = "Secondary"
		}
		valid = append(valid, k)
	}
	return valid, nil
}

func parseTopicIdeas(raw string) ([]models.TopicIdea, error) {
	var out []models.TopicIdea
	if !decodeJSON(raw, '[', ']', &out) {
		return nil, resilience.Malformed("topic ideas", "no JSON array found")
	}
	valid := make([]models.TopicIdea, 0, len(out))
	for _, idea := range out {
		if strings.TrimSpace(idea.Title) == "" {
			continue
		}
		idea.Keywords = nonNil(idea.Keywords)
		valid = append(valid, idea)
	}
	return valid, nil
}

// dedupeSources keeps the first source per URI and drops empty URIs.
func dedupeSources(in []models.Source) []models.Source {
	out := make([]models.Source, 0, len(in))
	seen := make(map[string]bool)
	for _, s := range in {
		if s.URI == "" || seen[s.URI] {
			continue
		}
		seen[s.URI] = true
		out = append(out, s)
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
