package models

import "strings"

// Platform is a publishing target. Zero limits mean "no limit of that kind".
type Platform struct {
	Name      string `json:"name"`
	WordCount int    `json:"word_count,omitempty"`
	CharCount int    `json:"char_count,omitempty"`
}

const DefaultPlatformName = "Generic Blog Post"

var Platforms = []Platform{
	{Name: "Generic Blog Post", WordCount: 1000},
	{Name: "LinkedIn Article", WordCount: 700},
	{Name: "Medium Story", WordCount: 1500},
	{Name: "X (Twitter) Thread", CharCount: 280},
	{Name: "Facebook Post", WordCount: 500, CharCount: 63206},
	{Name: "Instagram Caption", WordCount: 300, CharCount: 2200},
	{Name: "Substack Newsletter", WordCount: 2000},
	{Name: "Reddit Post", WordCount: 1000, CharCount: 40000},
	{Name: "Dev.to Article", WordCount: 1200},
}

// LookupPlatform finds a catalogue entry by case-insensitive name.
func LookupPlatform(name string) (Platform, bool) {
	name = strings.TrimSpace(name)
	for _, p := range Platforms {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Platform{}, false
}

// resolvePlatform prefers the catalogue limits for a known name and the
// default platform for an empty one.
func resolvePlatform(p Platform) (Platform, bool) {
	if strings.TrimSpace(p.Name) == "" {
		return LookupPlatform(DefaultPlatformName)
	}
	return LookupPlatform(p.Name)
}

func DefaultAuthorProfile() AuthorProfile {
	return AuthorProfile{
		Style:    "Informative and engaging",
		Tone:     "Professional yet approachable",
		Audience: "General audience with an interest in technology",
		Language: "British English",
	}
}

func (a AuthorProfile) withDefaults() AuthorProfile {
	d := DefaultAuthorProfile()
	if strings.TrimSpace(a.Style) == "" {
		a.Style = d.Style
	}
	if strings.TrimSpace(a.Tone) == "" {
		a.Tone = d.Tone
	}
	if strings.TrimSpace(a.Audience) == "" {
		a.Audience = d.Audience
	}
	if strings.TrimSpace(a.Language) == "" {
		a.Language = d.Language
	}
	return a
}
