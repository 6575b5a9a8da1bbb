package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stratis-backend/internal/models"
)

var ErrNotFound = errors.New("not found")

// ErrRunClosed is returned when a run was already failed or completed, for
// example by the stale run reaper, before the worker stored its outcome.
var ErrRunClosed = errors.New("run already closed")

type RunRepo struct {
	pool *pgxpool.Pool
}

func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, user_id, kind, topic, request_json, prior_article_id, status, steps,
	article_json, article_id, error_message, created_at, updated_at, completed_at`

// Create inserts a queued run. The caller chooses the ID so it can be
// handed out before the row exists.
func (r *RunRepo) Create(ctx context.Context, run *models.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = models.RunStatusQueued
	if run.RequestJSON == nil {
		run.RequestJSON = json.RawMessage("{}")
	}
	stepsBytes, err := json.Marshal(run.Steps)
	if err != nil {
		return err
	}

	query := `INSERT INTO generation_runs (id, user_id, kind, topic, request_json, prior_article_id, status, steps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		run.ID, run.UserID, run.Kind, run.Topic, []byte(run.RequestJSON), run.PriorArticleID, run.Status, stepsBytes,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
}

func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM generation_runs WHERE id = $1", id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

func (r *RunRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Run, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM generation_runs WHERE user_id = $1", userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		"SELECT "+runColumns+" FROM generation_runs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := []*models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// UpdateProgress records the latest snapshot of a running run.
func (r *RunRepo) UpdateProgress(ctx context.Context, id uuid.UUID, steps []models.GenerationStep, article *models.Article) error {
	stepsBytes, articleBytes, err := marshalProgress(steps, article)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE generation_runs SET status = $1, steps = $2, article_json = $3, updated_at = NOW()
		WHERE id = $4 AND status IN ('queued', 'running')`,
		models.RunStatusRunning, stepsBytes, articleBytes, id,
	)
	return err
}

// Complete stores the finished article and closes the run in one
// transaction.
func (r *RunRepo) Complete(ctx context.Context, run *models.Run, steps []models.GenerationStep, article *models.Article) error {
	stepsBytes, articleBytes, err := marshalProgress(steps, article)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO articles (id, user_id, run_id, title, topic, platform_name, research_key, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		article.ID, run.UserID, run.ID, article.Title, article.Topic, article.PlatformName, article.ResearchKey, articleBytes, article.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE generation_runs SET status = $1, steps = $2, article_json = $3, article_id = $4,
			error_message = NULL, updated_at = NOW(), completed_at = NOW()
		WHERE id = $5 AND status IN ('queued', 'running')`,
		models.RunStatusComplete, stepsBytes, articleBytes, article.ID, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunClosed
	}

	return tx.Commit(ctx)
}

// Fail closes the run with a user-facing message, keeping the partial
// article for inspection.
func (r *RunRepo) Fail(ctx context.Context, id uuid.UUID, steps []models.GenerationStep, article *models.Article, message string) error {
	stepsBytes, articleBytes, err := marshalProgress(steps, article)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE generation_runs SET status = $1, steps = $2, article_json = $3, error_message = $4,
			updated_at = NOW(), completed_at = NOW()
		WHERE id = $5 AND status IN ('queued', 'running')`,
		models.RunStatusFailed, stepsBytes, articleBytes, message, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunClosed
	}
	return nil
}

// FailStale fails queued or running runs not updated since cutoff.
func (r *RunRepo) FailStale(ctx context.Context, cutoff time.Time, message string) ([]models.StaleRun, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE generation_runs SET status = $1, error_message = $2, updated_at = NOW(), completed_at = NOW()
		WHERE status IN ('queued', 'running') AND updated_at < $3
		RETURNING id, user_id`,
		models.RunStatusFailed, message, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reaped []models.StaleRun
	for rows.Next() {
		var s models.StaleRun
		if err := rows.Scan(&s.RunID, &s.UserID); err != nil {
			return nil, err
		}
		reaped = append(reaped, s)
	}
	return reaped, rows.Err()
}

func marshalProgress(steps []models.GenerationStep, article *models.Article) ([]byte, []byte, error) {
	stepsBytes, err := json.Marshal(steps)
	if err != nil {
		return nil, nil, err
	}
	if article == nil {
		return stepsBytes, nil, nil
	}
	articleBytes, err := json.Marshal(article)
	if err != nil {
		return nil, nil, err
	}
	return stepsBytes, articleBytes, nil
}

func scanRun(row pgx.Row) (*models.Run, error) {
	run := &models.Run{}
	var requestBytes, stepsBytes, articleBytes []byte
	err := row.Scan(
		&run.ID, &run.UserID, &run.Kind, &run.Topic, &requestBytes, &run.PriorArticleID, &run.Status, &stepsBytes,
		&articleBytes, &run.ArticleID, &run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	run.RequestJSON = json.RawMessage(requestBytes)
	if err := json.Unmarshal(stepsBytes, &run.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of run %s: %w", run.ID, err)
	}
	if len(articleBytes) > 0 {
		run.Article = &models.Article{}
		if err := json.Unmarshal(articleBytes, run.Article); err != nil {
			return nil, fmt.Errorf("failed to decode article of run %s: %w", run.ID, err)
		}
	}
	return run, nil
}
