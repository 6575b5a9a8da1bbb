package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type LengthUnit string

const (
	LengthUnitWords LengthUnit = "words"
	LengthUnitChars LengthUnit = "chars"
)

type LengthOverride struct {
	Min  int        `json:"min"`
	Max  int        `json:"max"`
	Unit LengthUnit `json:"unit"`
}

type AuthorProfile struct {
	Style    string `json:"style"`
	Tone     string `json:"tone"`
	Audience string `json:"audience"`
	Language string `json:"language"`
}

// Reference is optional source material handed to the research step. Every
// field that is set contributes text.
type Reference struct {
	YouTubeURL string `json:"youtube_url,omitempty"`
	WebURL     string `json:"web_url,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

func (r *Reference) IsZero() bool {
	return r == nil || (r.YouTubeURL == "" && r.WebURL == "" && r.DocumentID == "")
}

type GenerationRequest struct {
	Topic          string          `json:"topic"`
	Platform       Platform        `json:"platform"`
	AuthorProfile  AuthorProfile   `json:"author_profile"`
	LengthOverride *LengthOverride `json:"length_override,omitempty"`
	SEOKeyword     string          `json:"seo_keyword,omitempty"`
	Reference      *Reference      `json:"reference,omitempty"`
}

// Normalize fills catalogue limits and profile defaults. It returns
// field-level validation errors, or nil when the request is usable.
func (r *GenerationRequest) Normalize() map[string]string {
	fields := map[string]string{}

	r.Topic = strings.TrimSpace(r.Topic)
	if r.Topic == "" {
		fields["topic"] = "Topic is required"
	}

	if p, ok := resolvePlatform(r.Platform); ok {
		r.Platform = p
	} else {
		fields["platform"] = "Unsupported platform"
	}

	r.AuthorProfile = r.AuthorProfile.withDefaults()
	r.SEOKeyword = strings.TrimSpace(r.SEOKeyword)

	if lo := r.LengthOverride; lo != nil {
		if msg := lo.validate(); msg != "" {
			fields["length_override"] = msg
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// RegenerateRequest carries the inputs that may change between a run and
// its regeneration. Empty values fall back to the prior article's.
type RegenerateRequest struct {
	Platform       *Platform       `json:"platform,omitempty"`
	AuthorProfile  *AuthorProfile  `json:"author_profile,omitempty"`
	LengthOverride *LengthOverride `json:"length_override,omitempty"`
	SEOKeyword     string          `json:"seo_keyword,omitempty"`

	// ClearLengthOverride drops the prior article's override so the
	// platform's own limits apply again.
	ClearLengthOverride bool `json:"clear_length_override,omitempty"`
}

func (r *RegenerateRequest) Normalize() map[string]string {
	fields := map[string]string{}
	if r.Platform != nil {
		p, ok := resolvePlatform(*r.Platform)
		if !ok {
			fields["platform"] = "Unsupported platform"
		} else {
			r.Platform = &p
		}
	}
	if r.AuthorProfile != nil {
		ap := r.AuthorProfile.withDefaults()
		r.AuthorProfile = &ap
	}
	if lo := r.LengthOverride; lo != nil {
		if msg := lo.validate(); msg != "" {
			fields["length_override"] = msg
		} else if r.ClearLengthOverride {
			fields["length_override"] = "Cannot set and clear the length override together"
		}
	}
	r.SEOKeyword = strings.TrimSpace(r.SEOKeyword)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (lo *LengthOverride) validate() string {
	if lo.Unit != LengthUnitWords && lo.Unit != LengthUnitChars {
		return "Unit must be words or chars"
	}
	if lo.Min < 0 || lo.Max < 0 {
		return "Counts must not be negative"
	}
	if lo.Min == 0 && lo.Max == 0 {
		return "Provide a minimum, a maximum or both"
	}
	if lo.Min > 0 && lo.Max > 0 && lo.Min > lo.Max {
		return "Minimum must not exceed maximum"
	}
	return ""
}

type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type ResearchData struct {
	History        string   `json:"history"`
	Facts          []string `json:"facts"`
	Misconceptions []string `json:"misconceptions"`
	Sources        []Source `json:"sources"`
}

type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type VisualPrompt struct {
	Placeholder string `json:"placeholder"`
	Type        string `json:"type"`
	Prompt      string `json:"prompt"`
}

type CheckStatus string

const (
	CheckPass             CheckStatus = "Pass"
	CheckNeedsImprovement CheckStatus = "Needs Improvement"
	CheckFail             CheckStatus = "Fail"
)

type SEOCheck struct {
	Check          string      `json:"check"`
	Status         CheckStatus `json:"status"`
	Recommendation string      `json:"recommendation"`
}

type Readability struct {
	Level string `json:"level"`
	Notes string `json:"notes"`
}

type SEOAnalysis struct {
	Score           int         `json:"score"`
	MetaDescription string      `json:"meta_description"`
	RelatedKeywords []string    `json:"related_keywords"`
	Readability     Readability `json:"readability"`
	Checklist       []SEOCheck  `json:"checklist"`
}

type ArticlePlan struct {
	Title          string         `json:"title"`
	Hashtags       []string       `json:"hashtags"`
	Links          []Link         `json:"links"`
	VisualPrompts  []VisualPrompt `json:"visual_prompts"`
	SEOAnalysis    *SEOAnalysis   `json:"seo_analysis,omitempty"`
	Sources        []Source       `json:"sources"`
	SEOKeywordUsed string         `json:"seo_keyword_used,omitempty"`
}

type Article struct {
	ID             uuid.UUID       `json:"id"`
	Title          string          `json:"title"`
	BodyContent    string          `json:"body_content"`
	Hashtags       []string        `json:"hashtags"`
	Links          []Link          `json:"links"`
	VisualPrompts  []VisualPrompt  `json:"visual_prompts"`
	ImageURLs      []string        `json:"image_urls"`
	SEOAnalysis    *SEOAnalysis    `json:"seo_analysis,omitempty"`
	Sources        []Source        `json:"sources"`
	SEOKeywordUsed string          `json:"seo_keyword_used,omitempty"`
	PlatformName   string          `json:"platform_name"`
	Topic          string          `json:"topic"`
	Platform       Platform        `json:"platform"`
	AuthorProfile  AuthorProfile   `json:"author_profile"`
	LengthOverride *LengthOverride `json:"length_override,omitempty"`
	// ResearchKey names the cached research this article was written from.
	ResearchKey string    `json:"research_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a copy that shares no slices or pointers with a.
func (a *Article) Clone() *Article {
	if a == nil {
		return nil
	}
	c := *a
	c.Hashtags = slices.Clone(a.Hashtags)
	c.Links = slices.Clone(a.Links)
	c.VisualPrompts = slices.Clone(a.VisualPrompts)
	c.ImageURLs = slices.Clone(a.ImageURLs)
	c.Sources = slices.Clone(a.Sources)
	if a.SEOAnalysis != nil {
		seo := *a.SEOAnalysis
		seo.RelatedKeywords = slices.Clone(a.SEOAnalysis.RelatedKeywords)
		seo.Checklist = slices.Clone(a.SEOAnalysis.Checklist)
		c.SEOAnalysis = &seo
	}
	if a.LengthOverride != nil {
		lo := *a.LengthOverride
		c.LengthOverride = &lo
	}
	return &c
}
