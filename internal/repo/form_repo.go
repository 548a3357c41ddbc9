// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read access to clients, forms, steps and
// step options.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. Missing rows are reported as ErrNotFound.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
)

// GetClient fetches a client by id.
func GetClient(ctx context.Context, db *gorm.DB, id string) (*domain.Client, error) {
	var c domain.Client
	if err := db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetForm fetches a form with its owning client.
func GetForm(ctx context.Context, db *gorm.DB, id string) (*domain.Form, error) {
	var f domain.Form
	err := db.WithContext(ctx).Preload("Client").First(&f, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	if f.Client == nil {
		return nil, ErrNotFound
	}
	return &f, nil
}

// GetActiveForm is GetForm restricted to forms accepting submissions.
func GetActiveForm(ctx context.Context, db *gorm.DB, id string) (*domain.Form, error) {
	f, err := GetForm(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if !f.IsActive {
		return nil, ErrNotFound
	}
	return f, nil
}

// ListFormsByClient returns the client's forms, newest first.
func ListFormsByClient(ctx context.Context, db *gorm.DB, clientID string) ([]domain.Form, error) {
	var out []domain.Form
	err := db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// ListSteps returns a form's steps ordered by position, and their options
// keyed by step id (each list ordered by position).
func ListSteps(ctx context.Context, db *gorm.DB, formID string) ([]domain.FormStep, map[string][]domain.StepOption, error) {
	var steps []domain.FormStep
	if err := db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("position ASC").
		Find(&steps).Error; err != nil {
		return nil, nil, err
	}
	opts := make(map[string][]domain.StepOption, len(steps))
	if len(steps) == 0 {
		return steps, opts, nil
	}

	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	var all []domain.StepOption
	if err := db.WithContext(ctx).
		Where("step_id IN ?", ids).
		Order("position ASC").
		Find(&all).Error; err != nil {
		return nil, nil, err
	}
	for _, o := range all {
		opts[o.StepID] = append(opts[o.StepID], o)
	}
	return steps, opts, nil
}

// FormBelongsTo reports whether form id is owned by clientID.
func FormBelongsTo(ctx context.Context, db *gorm.DB, id, clientID string) (bool, error) {
	var f domain.Form
	err := db.WithContext(ctx).Select("id").
		Where("id = ? AND client_id = ?", id, clientID).
		First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}
