package services

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"stratis-backend/internal/models"
	"stratis-backend/internal/resilience"
)

func TestParseResearch(t *testing.T) {
	raw := "Here you go:\n```json\n" + `{
		"history": " Began in 1800. ",
		"facts": ["a", "b"],
		"misconceptions": [],
		"sources": [
			{"uri": "https://a.example", "title": "A"},
			{"uri": "https://a.example", "title": "A again"},
			{"uri": "", "title": "nothing"},
			{"uri": "https://b.example", "title": "B"}
		]
	}` + "\n```"

	data, err := parseResearch(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.History != "Began in 1800." {
		t.Fatalf("history = %q", data.History)
	}
	if len(data.Sources) != 2 || data.Sources[0].Title != "A" || data.Sources[1].URI != "https://b.example" {
		t.Fatalf("sources not deduplicated: %+v", data.Sources)
	}
	if data.Misconceptions == nil {
		t.Fatal("empty list should stay non-nil")
	}
}

func TestParseResearch_MissingFieldsIsMalformed(t *testing.T) {
	for _, raw := range []string{
		`{"history": "x", "facts": []}`,
		`no json here`,
		`{"facts": [], "misconceptions": []}`,
	} {
		_, err := parseResearch(raw)
		var m *resilience.MalformedError
		if !errors.As(err, &m) {
			t.Fatalf("%q: expected MalformedError, got %v", raw, err)
		}
	}
}

func TestParsePlan(t *testing.T) {
	raw := `{
		"title": "Tea, Explained",
		"links": [{"text": "Kew", "url": ""}],
		"visualPrompts": [
			{"placeholder": "[IMAGE_1]", "type": "header", "prompt": "a teapot"},
			{"placeholder": "[IMAGE_1]", "type": "inline", "prompt": "duplicate"},
			{"placeholder": "[IMAGE_2]", "type": "inline", "prompt": "a leaf"}
		],
		"seoAnalysis": {
			"score": 140,
			"metaDescription": "All about tea",
			"checklist": [
				{"check": "Keyword in title", "status": "pass", "recommendation": ""},
				{"check": "Length", "status": "Meh", "recommendation": "Longer"}
			]
		}
	}`
	research := &models.ResearchData{Sources: []models.Source{{URI: "https://kew.org", Title: "Kew"}}}

	plan, err := parsePlan(raw, research, "green tea")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Hashtags == nil || len(plan.Hashtags) != 0 {
		t.Fatalf("missing hashtags should become an empty list, got %v", plan.Hashtags)
	}
	if plan.Links[0].URL != "#" {
		t.Fatalf("link without url should fall back to #, got %q", plan.Links[0].URL)
	}
	if len(plan.VisualPrompts) != 2 || plan.VisualPrompts[1].Placeholder != "[IMAGE_2]" {
		t.Fatalf("placeholders should be unique: %+v", plan.VisualPrompts)
	}
	if plan.SEOAnalysis.Score != 100 {
		t.Fatalf("score should clamp to 100, got %d", plan.SEOAnalysis.Score)
	}
	if plan.SEOAnalysis.Checklist[0].Status != models.CheckPass || plan.SEOAnalysis.Checklist[1].Status != models.CheckNeedsImprovement {
		t.Fatalf("checklist statuses = %+v", plan.SEOAnalysis.Checklist)
	}
	if len(plan.Sources) != 1 || plan.SEOKeywordUsed != "green tea" {
		t.Fatalf("sources/keyword not attached: %+v %q", plan.Sources, plan.SEOKeywordUsed)
	}
}

func TestParsePlan_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing title", `{"visualPrompts": []}`},
		{"blank title", `{"title": "  ", "visualPrompts": []}`},
		{"missing visual prompts", `{"title": "T"}`},
		{"prompt without text", `{"title": "T", "visualPrompts": [{"placeholder": "[A]", "prompt": ""}]}`},
		{"truncated", `{"title": "T", "visualPrompts": [`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parsePlan(tc.raw, nil, "")
			if resilience.Classify(err).Kind != resilience.KindMalformed {
				t.Fatalf("expected malformed, got %v", err)
			}
		})
	}
}

func TestParseKeywordsAndIdeas(t *testing.T) {
	kw, err := parseKeywords(`[{"keyword":"tea","type":"Primary","intent":"Informational"},{"keyword":"","type":"Primary"},{"keyword":"oolong","type":"long-tail","intent":"Commercial"}]`)
	if err != nil {
		t.Fatalf("keywords: %v", err)
	}
	if len(kw) != 2 || kw[1].Type != "Secondary" {
		t.Fatalf("keywords = %+v", kw)
	}

	ideas, err := parseTopicIdeas("```json\n[{\"title\":\"Tea wars\",\"angle\":\"trade\"}]\n```")
	if err != nil {
		t.Fatalf("ideas: %v", err)
	}
	if len(ideas) != 1 || ideas[0].Keywords == nil {
		t.Fatalf("ideas = %+v", ideas)
	}
}

func TestPlatformConstraints(t *testing.T) {
	p, _ := models.LookupPlatform("Facebook Post")

	got := platformConstraints(p, nil)
	if !strings.Contains(got, "Approximately 500 words") || !strings.Contains(got, "63206 characters") {
		t.Fatalf("catalogue limits missing: %q", got)
	}

	tests := []struct {
		lo   models.LengthOverride
		want string
	}{
		{models.LengthOverride{Min: 200, Max: 400, Unit: models.LengthUnitWords}, "Word Count: Between 200 and 400."},
		{models.LengthOverride{Max: 900, Unit: models.LengthUnitChars}, "Maximum Character Count: 900."},
		{models.LengthOverride{Min: 50, Unit: models.LengthUnitWords}, "Minimum Word Count: 50."},
	}
	for _, tc := range tests {
		got := platformConstraints(p, &tc.lo)
		if !strings.Contains(got, tc.want) || !strings.Contains(got, "custom length") {
			t.Errorf("constraints = %q, want %q", got, tc.want)
		}
		if strings.Contains(got, "63206") {
			t.Errorf("override should replace catalogue limits: %q", got)
		}
	}
}

func TestPromptsCarryBritishSpelling(t *testing.T) {
	for name, prompt := range map[string]string{
		"research":  buildResearchPrompt("tea", ""),
		"keywords":  buildKeywordsPrompt("tea"),
		"ideas":     buildTopicIdeasPrompt("tea"),
		"repurpose": buildRepurposePrompt("T", "<p>x</p>", "LinkedIn Post"),
	} {
		if !strings.Contains(prompt, britishSpellingInstruction) {
			t.Errorf("%s prompt lacks the spelling instruction", name)
		}
	}
}

func TestResearchPromptCapsReference(t *testing.T) {
	prompt := buildResearchPrompt("tea", strings.Repeat("x", referenceCharLimit+500))
	if strings.Count(prompt, "x") > referenceCharLimit+10 {
		t.Fatal("reference material not capped")
	}
}

func TestResearchPromptCapsReferenceOnRuneBoundary(t *testing.T) {
	reference := strings.Repeat("a", referenceCharLimit-1) + strings.Repeat("é", 50)
	prompt := buildResearchPrompt("coffee houses", reference)
	if !utf8.ValidString(prompt) {
		t.Fatal("capped reference split a multi-byte character")
	}
	if strings.Contains(prompt, "é") {
		t.Fatal("partial rune should be dropped, not kept")
	}
	if !strings.Contains(prompt, strings.Repeat("a", referenceCharLimit-1)+"\n---REFERENCE END---") {
		t.Fatal("reference should end at the last whole rune")
	}
}
