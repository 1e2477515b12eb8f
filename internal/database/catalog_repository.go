package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/opinionpulse/internal/domain"
)

// CatalogRepo reads the topic hierarchy. The hierarchy is written by
// external admin tooling; this service only resolves and lists it.
type CatalogRepo struct {
	pool *pgxpool.Pool
}

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

func (r *CatalogRepo) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, created_at
		FROM categories
		ORDER BY sort_order, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *CatalogRepo) ListSubcategories(ctx context.Context, categoryID uuid.UUID) ([]domain.Subcategory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, category_id, name, image_url, created_at
		FROM subcategories
		WHERE category_id = $1
		ORDER BY sort_order, name
	`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subcategories: %w", err)
	}
	defer rows.Close()

	var subcategories []domain.Subcategory
	for rows.Next() {
		var s domain.Subcategory
		if err := rows.Scan(&s.ID, &s.CategoryID, &s.Name, &s.ImageURL, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subcategory: %w", err)
		}
		subcategories = append(subcategories, s)
	}
	return subcategories, rows.Err()
}

func (r *CatalogRepo) ListSubQuestions(ctx context.Context, subcategoryID uuid.UUID) ([]domain.SubQuestion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, subcategory_id, question, created_at
		FROM subquestions
		WHERE subcategory_id = $1
		ORDER BY sort_order, question
	`, subcategoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sub-questions: %w", err)
	}
	defer rows.Close()

	var subQuestions []domain.SubQuestion
	for rows.Next() {
		var q domain.SubQuestion
		if err := rows.Scan(&q.ID, &q.SubcategoryID, &q.Question, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sub-question: %w", err)
		}
		subQuestions = append(subQuestions, q)
	}
	return subQuestions, rows.Err()
}

// ResolveItem maps a bare item ID to its position in the hierarchy. The ID
// may name a subcategory or a sub-question; sub-question refs carry all
// three levels.
func (r *CatalogRepo) ResolveItem(ctx context.Context, itemID uuid.UUID) (domain.ItemRef, error) {
	var ref domain.ItemRef
	err := r.pool.QueryRow(ctx, `
		SELECT category_id, id
		FROM subcategories
		WHERE id = $1
	`, itemID).Scan(&ref.CategoryID, &ref.SubcategoryID)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ItemRef{}, fmt.Errorf("failed to resolve item: %w", err)
	}

	var subQuestionID uuid.UUID
	err = r.pool.QueryRow(ctx, `
		SELECT s.category_id, s.id, q.id
		FROM subquestions q
		JOIN subcategories s ON s.id = q.subcategory_id
		WHERE q.id = $1
	`, itemID).Scan(&ref.CategoryID, &ref.SubcategoryID, &subQuestionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ItemRef{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ItemRef{}, fmt.Errorf("failed to resolve item: %w", err)
	}
	ref.SubQuestionID = subQuestionID
	return ref, nil
}
