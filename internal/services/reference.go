package services

import (
	"context"
	"strings"

	"stratis-backend/internal/models"
)

// ReferenceService resolves every part of a request's reference material and
// joins the extracted text. Any part that cannot be read fails the whole
// reference.
type ReferenceService struct {
	youtube *YouTubeService
	web     *WebPageService
	docs    *FileExtractService
}

func NewReferenceService(youtube *YouTubeService, web *WebPageService, docs *FileExtractService) *ReferenceService {
	return &ReferenceService{youtube: youtube, web: web, docs: docs}
}

func (s *ReferenceService) Resolve(ctx context.Context, ref *models.Reference) (string, error) {
	if ref.IsZero() {
		return "", nil
	}

	var parts []string
	if u := strings.TrimSpace(ref.YouTubeURL); u != "" {
		text, err := s.youtube.VideoReference(ctx, u)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	if u := strings.TrimSpace(ref.WebURL); u != "" {
		text, err := s.web.PageReference(ctx, u)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	if id := strings.TrimSpace(ref.DocumentID); id != "" {
		text, err := s.docs.ExtractByID(id)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}
