// Command stratisctl generates articles locally and inspects a running Stratis server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/middleware"
	"stratis-backend/internal/models"
	"stratis-backend/internal/pipeline"
	"stratis-backend/internal/resilience"
	"stratis-backend/internal/services"
)

func main() {
	godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newRootCmd() *cobra.Command {
	c := &client{http: &http.Client{Timeout: 2 * time.Minute}}

	root := &cobra.Command{
		Use:           "stratisctl",
		Short:         "Operate a Stratis article generation server",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&c.baseURL, "api", envOr("STRATIS_API", "http://localhost:8080/api/v1"), "API base URL")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv("STRATIS_TOKEN"), "bearer token")

	root.AddCommand(newTokenCmd(), newPlatformsCmd(c), newGenerateCmd(), newRunCmd(c))
	return root
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			id := uuid.New()
			if userID != "" {
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("bad --user: %w", err)
				}
				id = parsed
			}
			token, err := middleware.NewJWTAuth(secret).GenerateAccessToken(id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newPlatformsCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List publishing platforms and their length limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Platforms []models.Platform `json:"platforms"`
			}
			if err := c.do(http.MethodGet, "/platforms", nil, &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tWORDS\tCHARS")
			for _, p := range resp.Platforms {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", p.Name, p.WordCount, p.CharCount)
			}
			return tw.Flush()
		},
	}
}

// newGenerateCmd runs the pipeline in-process against the configured AI
// providers. Nothing is persisted.
func newGenerateCmd() *cobra.Command {
	var (
		req                 models.GenerationRequest
		youtube, web, doc   string
		storagePath         string
		verbose, withImages bool
	)

	cmd := &cobra.Command{
		Use:   "generate <topic>",
		Short: "Generate an article locally and print it as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Topic = strings.Join(args, " ")
			if youtube != "" || web != "" || doc != "" {
				req.Reference = &models.Reference{YouTubeURL: youtube, WebURL: web, DocumentID: doc}
			}
			if fields := req.Normalize(); fields != nil {
				for field, msg := range fields {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", field, msg)
				}
				return fmt.Errorf("invalid request")
			}

			log := logger.Nop()
			if verbose {
				l, err := logger.New("development")
				if err != nil {
					return err
				}
				log = l
			}

			apiKey := os.Getenv("GEMINI_API_KEY")
			if apiKey == "" {
				return fmt.Errorf("GEMINI_API_KEY is not set")
			}
			refs := services.NewReferenceService(
				services.NewYouTubeService(log),
				services.NewWebPageService(log),
				services.NewFileExtractService(storagePath),
			)
			gemini, err := services.NewGeminiService(apiKey, envOr("GEMINI_MODEL", "gemini-2.5-flash"), 2, refs, log)
			if err != nil {
				return err
			}
			defer gemini.Close()

			var images pipeline.ImageGenerator = offlineImages{}
			if withImages {
				images = services.NewImageService(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL"),
					envOr("IMAGE_MODEL", "dall-e-3"), envOr("IMAGE_SIZE", "1792x1024"), nil)
			}

			gen := pipeline.New(gemini, images, nil, pipeline.Options{
				Executor: resilience.NewExecutor(resilience.DefaultMaxAttempts, log),
				Log:      log,
			})

			out := cmd.ErrOrStderr()
			var prev []models.GenerationStep
			pub := pipeline.PublisherFunc(func(snap models.Snapshot) {
				for i, step := range snap.Steps {
					if i < len(prev) && prev[i] == step {
						continue
					}
					if step.Status != models.StepPending {
						fmt.Fprintf(out, "[%s] %s\n", step.Status, step.Title)
					}
				}
				prev = snap.Steps
				if snap.Error != "" {
					fmt.Fprintf(out, "error: %s\n", snap.Error)
				}
			})

			article, err := gen.Start(cmd.Context(), uuid.New(), req, pub)
			if err != nil {
				return errors.New(resilience.Message(err))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(article)
		},
	}
	cmd.Flags().StringVar(&req.Platform.Name, "platform", models.DefaultPlatformName, "publishing platform")
	cmd.Flags().StringVar(&req.SEOKeyword, "keyword", "", "target SEO keyword")
	cmd.Flags().StringVar(&req.AuthorProfile.Tone, "tone", "", "author tone")
	cmd.Flags().StringVar(&youtube, "youtube", "", "YouTube reference URL")
	cmd.Flags().StringVar(&web, "web", "", "web page reference URL")
	cmd.Flags().StringVar(&doc, "document", "", "uploaded reference document ID")
	cmd.Flags().StringVar(&storagePath, "storage", envOr("STORAGE_PATH", "./uploads"), "directory holding uploaded references")
	cmd.Flags().BoolVar(&withImages, "images", false, "render visuals through OpenAI")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log provider calls")
	return cmd
}

// offlineImages fails every render so each visual keeps its placeholder.
type offlineImages struct{}

func (offlineImages) GenerateImage(context.Context, string) (string, error) {
	return "", errors.New("image rendering disabled")
}

func newRunCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Show the step list of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run models.Run
			if err := c.do(http.MethodGet, "/runs/"+args[0], nil, &run); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  %s\n", run.ID, run.Status, run.Topic)
			for _, s := range run.Steps {
				fmt.Fprintf(out, "  [%s] %s\n", s.Status, s.Title)
			}
			if run.ErrorMessage != nil {
				fmt.Fprintf(out, "error: %s\n", *run.ErrorMessage)
			}
			return nil
		},
	}
}

func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimSuffix(c.baseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr models.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
