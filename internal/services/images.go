package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"stratis-backend/internal/resilience"
)

// ObjectStore persists rendered image bytes and returns a public URL.
type ObjectStore interface {
	PutImage(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ImageService renders visual prompts through the OpenAI images endpoint.
// Without a store the image is returned inline as a data URI.
type ImageService struct {
	client openai.Client
	model  string
	size   string
	store  ObjectStore
}

func NewImageService(apiKey, baseURL, model, size string, store ObjectStore) *ImageService {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &ImageService{
		client: openai.NewClient(opts...),
		model:  model,
		size:   size,
		store:  store,
	}
}

// GenerateImage implements pipeline.ImageGenerator.
func (s *ImageService) GenerateImage(ctx context.Context, prompt string) (string, error) {
	params := openai.ImageGenerateParams{
		Prompt: imagePromptPrefix + prompt,
		Model:  openai.ImageModel(s.model),
		N:      openai.Int(1),
	}
	if s.size != "" {
		params.Size = openai.ImageGenerateParamsSize(s.size)
	}
	// gpt-image models always answer in base64 and reject the parameter.
	if !strings.HasPrefix(s.model, "gpt-image") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := s.client.Images.Generate(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", resilience.Malformed("image", "no image data returned")
	}

	img := resp.Data[0]
	if img.B64JSON == "" {
		if img.URL == "" {
			return "", resilience.Malformed("image", "image has neither data nor url")
		}
		return img.URL, nil
	}
	return s.persist(ctx, img.B64JSON)
}

func (s *ImageService) persist(ctx context.Context, b64 string) (string, error) {
	if s.store == nil {
		return "data:image/png;base64," + b64, nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", resilience.Malformed("image", "bad base64 payload: %v", err)
	}
	url, err := s.store.PutImage(ctx, fmt.Sprintf("images/%s.png", uuid.New()), data, "image/png")
	if err != nil {
		return "", err
	}
	return url, nil
}
