package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"stratis-backend/internal/models"
	"stratis-backend/internal/pipeline"
)

const britishSpellingInstruction = "CRITICAL: You MUST use British English spelling throughout (e.g., use 's' instead of 'z' in words like 'optimise', 'analysing', 'organise', 'synthesising'). Do not use American English conventions."

const imagePromptPrefix = "High-end editorial photography, cinematic lighting, 8k: "

// referenceCharLimit caps extracted reference material in the research prompt.
const referenceCharLimit = 20000

// platformConstraints renders the length rules for a platform. A length
// override replaces the catalogue limits.
func platformConstraints(p models.Platform, lo *models.LengthOverride) string {
	var b strings.Builder
	if lo != nil && (lo.Min > 0 || lo.Max > 0) {
		b.WriteString(fmt.Sprintf("- Platform: %s (with custom length)", p.Name))
		label := "Word"
		if lo.Unit == models.LengthUnitChars {
			label = "Character"
		}
		switch {
		case lo.Min > 0 && lo.Max > 0 && lo.Min <= lo.Max:
			b.WriteString(fmt.Sprintf("\n- %s Count: Between %d and %d.", label, lo.Min, lo.Max))
		case lo.Max > 0:
			b.WriteString(fmt.Sprintf("\n- Maximum %s Count: %d.", label, lo.Max))
		case lo.Min > 0:
			b.WriteString(fmt.Sprintf("\n- Minimum %s Count: %d.", label, lo.Min))
		}
		return b.String()
	}

	b.WriteString(fmt.Sprintf("- Platform: %s", p.Name))
	if p.WordCount > 0 {
		b.WriteString(fmt.Sprintf("\n- Word Count Limit: Approximately %d words", p.WordCount))
	}
	if p.CharCount > 0 {
		b.WriteString(fmt.Sprintf("\n- Character Count Limit: %d characters", p.CharCount))
	}
	return b.String()
}

func buildResearchPrompt(topic, reference string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Your task is to research the topic: %q. Use the most up-to-date, factual information you have.\n", topic))
	b.WriteString(britishSpellingInstruction + "\n")
	b.WriteString("Provide a detailed breakdown covering its history, quirky and little-known facts, and common misconceptions or urban myths.\n")
	b.WriteString("List the web sources you relied on with their full URL and page title.\n\n")

	if reference != "" {
		reference = capReference(reference)
		b.WriteString("Ground the research in the following reference material first:\n")
		b.WriteString("---REFERENCE START---\n")
		b.WriteString(reference)
		b.WriteString("\n---REFERENCE END---\n")
	}

	return b.String()
}

// capReference cuts reference material to referenceCharLimit bytes, backing
// off to a rune boundary so the prompt stays valid UTF-8.
func capReference(s string) string {
	if len(s) <= referenceCharLimit {
		return s
	}
	cut := referenceCharLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func buildPlanPrompt(in pipeline.PlanInput) string {
	var b strings.Builder

	b.WriteString("You are an expert blog post writer and SEO strategist. Create a detailed plan for an article.\n")
	b.WriteString(britishSpellingInstruction + "\n")
	b.WriteString(fmt.Sprintf("Topic: %q\n", in.Topic))
	b.WriteString("Platform Constraints:\n" + platformConstraints(in.Platform, in.LengthOverride) + "\n")
	b.WriteString("Author Profile: " + mustJSON(in.AuthorProfile) + "\n")
	if in.Research != nil {
		b.WriteString("Research: " + mustJSON(in.Research) + "\n")
	}
	if in.SEOKeyword != "" {
		b.WriteString(fmt.Sprintf("Target Keyword: %q\n", in.SEOKeyword))
	}
	if in.Regenerate {
		b.WriteString("REGENERATE LAYOUT: Plan a completely new structure, different from any earlier version of this article.\n")
	}

	b.WriteString(`
OUTPUT REQUIREMENTS:
- Provide title, hashtags, links, and visualPrompts.
- Each visualPrompt needs a unique placeholder such as [IMAGE_1], a type (header or inline) and a detailed image prompt.
`)
	if in.SEOKeyword != "" {
		b.WriteString("- Provide a full seoAnalysis object for the target keyword. Checklist status must be one of Pass, Needs Improvement, Fail.\n")
	}

	return b.String()
}

func buildContentPrompt(in pipeline.ContentInput) string {
	var b strings.Builder

	b.WriteString("Write the main HTML content for an article.\n")
	b.WriteString(britishSpellingInstruction + "\n")
	b.WriteString("Plan: " + mustJSON(in.Plan) + "\n")
	b.WriteString("Platform:\n" + platformConstraints(in.Platform, in.LengthOverride) + "\n")
	b.WriteString("Profile: " + mustJSON(in.AuthorProfile) + "\n")
	if in.Research != nil {
		b.WriteString("Research: " + mustJSON(in.Research) + "\n")
	}
	if in.Regenerate {
		b.WriteString("REGENERATE LAYOUT: Create a completely new layout structure.\n")
	}

	b.WriteString(`
RULES:
- Output raw HTML ONLY. No tags like <html>, <head> or <body>.
- Use <p> tags for every paragraph.
- Use <h2>/<h3> for headings.
- Strategic use of <blockquote class="pull-quote">, lists, and two-column divs (<div class="two-col-container">).
- Place each visual placeholder from the plan exactly once using <img src="[ID]" class="img-float-left" /> style tags, where [ID] is the placeholder.
`)

	return b.String()
}

func buildKeywordsPrompt(topic string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are an expert SEO strategist. For the topic %q, generate a list of 5-7 keyword suggestions.\n", topic))
	b.WriteString(britishSpellingInstruction + "\n")
	b.WriteString("- Include 2-3 \"Primary\" keywords that are broad and have high traffic potential.\n")
	b.WriteString("- Include 3-4 \"Secondary\" (long-tail) keywords that are more specific.\n")
	b.WriteString("- For each keyword, determine the likely user \"intent\" (e.g., Informational, Commercial, Navigational).\n")
	return b.String()
}

func buildTopicIdeasPrompt(topic string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are an expert content strategist and SEO specialist. Brainstorm 5 creative and engaging article ideas based on the broad topic: %q.\n", topic))
	b.WriteString(britishSpellingInstruction + "\n")
	b.WriteString("For each idea, provide a catchy, SEO-friendly title, a unique angle or synopsis, and a list of 3-5 relevant keywords.\n")
	return b.String()
}

func buildRepurposePrompt(title, content, platform string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are a social media growth expert. Repurpose the following article for %s.\n", platform))
	b.WriteString(britishSpellingInstruction + "\n\n")
	b.WriteString(fmt.Sprintf("Article Title: %q\n", title))
	b.WriteString("Article Content (HTML): " + content + "\n")
	b.WriteString(`
GUIDELINES:
- For "X (Twitter) Thread": Create a compelling 5-7 tweet thread. Start with a hook. Use numbered tweets (1/n).
- For "LinkedIn Post": Create a professional, insightful post with bullet points and a clear call to action. Focus on industry authority.
- For "Instagram Caption": Create a vibrant, engaging caption with line breaks for readability. Include relevant emojis and a block of 5-10 trending hashtags at the end.

Output the raw text of the post only. Do not include meta-commentary.`)
	return b.String()
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
