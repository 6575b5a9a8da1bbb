package pipeline

import (
	"context"
	"errors"
	"html"
	"strings"

	"golang.org/x/sync/errgroup"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/models"
	"stratis-backend/internal/resilience"
)

// AltTextLimit bounds the alt text taken from a visual prompt, in runes.
const AltTextLimit = 100

var errNoImageGenerator = errors.New("no image generator configured")

// renderVisuals generates one image per prompt concurrently and waits for
// all of them. urls[i] belongs to prompts[i]; a failed visual leaves "".
func (p *Pipeline) renderVisuals(ctx context.Context, prompts []models.VisualPrompt, log *logger.Logger) []string {
	urls := make([]string, len(prompts))
	if len(prompts) == 0 {
		return urls
	}

	// Goroutines never return errors, so one failure cannot cancel the rest.
	var g errgroup.Group
	g.SetLimit(p.imageCap)
	for i, vp := range prompts {
		g.Go(func() error {
			url, err := resilience.Do(ctx, p.exec, func(ctx context.Context) (string, error) {
				if p.images == nil {
					return "", errNoImageGenerator
				}
				return p.images.GenerateImage(ctx, vp.Prompt)
			})
			if err == nil && url == "" {
				err = resilience.Malformed("image", "empty image reference")
			}
			if err != nil {
				p.obs.ImageFailed()
				log.Warn("Visual failed, leaving placeholder",
					"index", i,
					"placeholder", vp.Placeholder,
					"error", err.Error(),
				)
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	_ = g.Wait()
	return urls
}

// Substitute points the first src attribute holding each placeholder at its
// rendered image and adds alt text from the prompt. Placeholders whose url
// is empty are left untouched.
func Substitute(body string, prompts []models.VisualPrompt, urls []string) string {
	for i, vp := range prompts {
		if i >= len(urls) || urls[i] == "" || vp.Placeholder == "" {
			continue
		}
		replacement := `src="` + strings.ReplaceAll(urls[i], `"`, "%22") + `" alt="` + html.EscapeString(truncateRunes(vp.Prompt, AltTextLimit)) + `"`
		for _, target := range []string{`src="` + vp.Placeholder + `"`, `src='` + vp.Placeholder + `'`} {
			if strings.Contains(body, target) {
				body = strings.Replace(body, target, replacement, 1)
				break
			}
		}
	}
	return body
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
