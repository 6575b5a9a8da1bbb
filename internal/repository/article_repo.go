package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stratis-backend/internal/models"
)

type ArticleRepo struct {
	pool *pgxpool.Pool
}

func NewArticleRepo(pool *pgxpool.Pool) *ArticleRepo {
	return &ArticleRepo{pool: pool}
}

// GetByID returns a finished article and the user who owns it.
func (r *ArticleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Article, uuid.UUID, error) {
	var owner uuid.UUID
	var data []byte
	err := r.pool.QueryRow(ctx, "SELECT user_id, data FROM articles WHERE id = $1", id).Scan(&owner, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, uuid.Nil, ErrNotFound
	}
	if err != nil {
		return nil, uuid.Nil, err
	}

	article := &models.Article{}
	if err := json.Unmarshal(data, article); err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to decode article %s: %w", id, err)
	}
	return article, owner, nil
}

// SaveRepurpose records a short-form version of an article.
func (r *ArticleRepo) SaveRepurpose(ctx context.Context, userID uuid.UUID, res *models.RepurposeResult) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO repurposed_posts (id, article_id, user_id, platform, content) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), res.ArticleID, userID, res.Platform, res.Content,
	)
	return err
}
