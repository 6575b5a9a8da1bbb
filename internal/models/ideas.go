package models

import "github.com/google/uuid"

type KeywordSuggestion struct {
	Keyword string `json:"keyword"`
	Type    string `json:"type"` // "Primary" | "Secondary"
	Intent  string `json:"intent"`
}

type TopicIdea struct {
	Title    string   `json:"title"`
	Angle    string   `json:"angle"`
	Keywords []string `json:"keywords"`
}

type IdeasRequest struct {
	Topic string `json:"topic"`
}

// Repurpose targets differ from publishing platforms: they are short-form
// rewrites of a finished article.
var RepurposeTargets = []string{"X (Twitter) Thread", "LinkedIn Post", "Instagram Caption"}

type RepurposeRequest struct {
	Platform string `json:"platform"`
}

type RepurposeResult struct {
	ArticleID uuid.UUID `json:"article_id"`
	Platform  string    `json:"platform"`
	Content   string    `json:"content"`
}
