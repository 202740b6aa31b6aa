package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

func (s *Storage) GetApplication(ctx context.Context, name, version string) (*domain.Application, error) {
	var row struct {
		Descriptor []byte `db:"descriptor"`
		Withdrawn  bool   `db:"withdrawn"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT descriptor, withdrawn FROM applications WHERE name = $1 AND version = $2`, name, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	var app domain.Application
	if err := json.Unmarshal(row.Descriptor, &app); err != nil {
		return nil, fmt.Errorf("failed to decode application %s@%s: %w", name, version, err)
	}
	app.Name, app.Version = name, version
	app.Withdrawn = app.Withdrawn || row.Withdrawn
	return &app, nil
}

func (s *Storage) GetProduct(ctx context.Context, ref domain.ProductRef) (*domain.Product, error) {
	var row struct {
		Description    string `db:"description"`
		CPU            int    `db:"cpu"`
		MemoryGB       int    `db:"memory_gb"`
		GPU            int    `db:"gpu"`
		PricePerMinute int64  `db:"price_per_minute"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT description, cpu, memory_gb, gpu, price_per_minute
		FROM products
		WHERE provider = $1 AND category = $2 AND id = $3
	`, ref.Provider, ref.Category, ref.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &domain.Product{
		ProductRef:     ref,
		Description:    row.Description,
		CPU:            row.CPU,
		MemoryGB:       row.MemoryGB,
		GPU:            row.GPU,
		PricePerMinute: row.PricePerMinute,
	}, nil
}
