package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/downloadui/download-ui/server/download/domain"
)

const maxTransitionAttempts = 5

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &Repository{db: db}
}

func (r *Repository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Source").
		Preload("FileFormat.Quality").
		Preload("FileFormat.Extension")
}

// Create implements domain.Repository. The choices are attached once,
// here; later saves never touch the association.
func (r *Repository) Create(ctx context.Context, d *domain.Download, choices []domain.Format) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d.Version = 1
		if err := tx.Omit(clause.Associations).Create(d).Error; err != nil {
			return errors.Wrap(err, "failed to create download")
		}

		if len(choices) == 0 {
			return nil
		}

		if err := tx.Model(d).Omit("ChoicesFor.*").Association("ChoicesFor").Append(choices); err != nil {
			return errors.Wrap(err, "failed to attach format choices")
		}
		return nil
	})
}

// Get implements domain.Repository.
func (r *Repository) Get(ctx context.Context, id uint) (*domain.Download, error) {
	var d domain.Download

	err := r.preloaded(ctx).First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &d, nil
}

// Save implements domain.Repository.
func (r *Repository) Save(ctx context.Context, d *domain.Download) error {
	now := time.Now()

	res := r.db.WithContext(ctx).
		Model(&domain.Download{}).
		Where("id = ? AND version = ?", d.ID, d.Version).
		Updates(map[string]any{
			"url":            d.URL,
			"slug_id":        d.SlugID,
			"channel_name":   d.ChannelName,
			"title":          d.Title,
			"source_id":      d.SourceID,
			"command_tag":    d.CommandTag,
			"file_format_id": d.FileFormatID,
			"status":         d.Status,
			"active_task_id": d.ActiveTaskID,
			"file_path":      d.FilePath,
			"size":           d.Size,
			"version":        d.Version + 1,
			"updated_at":     now,
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to save download %d", d.ID)
	}
	if res.RowsAffected == 0 {
		return domain.ErrStaleRecord
	}

	d.Version++
	d.UpdatedAt = now
	return nil
}

// Transition implements domain.Repository.
func (r *Repository) Transition(ctx context.Context, id uint, fn func(*domain.Download) error) (*domain.Download, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		d, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(d); err != nil {
			return d, err
		}

		err = r.Save(ctx, d)
		if errors.Is(err, domain.ErrStaleRecord) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return d, nil
	}

	return nil, domain.ErrStaleRecord
}

// Delete implements domain.Repository.
func (r *Repository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d := domain.Download{ID: id}
		if err := tx.Model(&d).Association("ChoicesFor").Clear(); err != nil {
			return err
		}
		return tx.Delete(&d).Error
	})
}

// DeleteDrafts implements domain.Repository.
func (r *Repository) DeleteDrafts(ctx context.Context, slugID string) (int64, error) {
	var drafts []domain.Download

	err := r.db.WithContext(ctx).
		Where(&domain.Download{SlugID: slugID, Status: domain.StatusDraft}).
		Find(&drafts).Error
	if err != nil {
		return 0, err
	}

	for _, d := range drafts {
		if err := r.Delete(ctx, d.ID); err != nil {
			return 0, errors.Wrapf(err, "failed to delete draft %d", d.ID)
		}
	}

	return int64(len(drafts)), nil
}

// FindCompleted implements domain.Repository.
func (r *Repository) FindCompleted(ctx context.Context, slugID string, formatID *uint) ([]domain.Download, error) {
	q := r.preloaded(ctx).
		Where("slug_id = ? AND status = ?", slugID, domain.StatusCompleted)

	if formatID != nil {
		q = q.Where("file_format_id = ?", *formatID)
	}

	var downloads []domain.Download
	if err := q.Order("created_at DESC, updated_at DESC").Find(&downloads).Error; err != nil {
		return nil, err
	}

	return downloads, nil
}

// ListByStatus implements domain.Repository.
func (r *Repository) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Download, error) {
	var downloads []domain.Download

	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id").
		Find(&downloads).Error
	if err != nil {
		return nil, err
	}

	return downloads, nil
}

// Search implements domain.Repository.
func (r *Repository) Search(ctx context.Context, query string, page, pageSize int) (*domain.Page, error) {
	if page < 1 {
		page = 1
	}

	q := r.db.WithContext(ctx).Model(&domain.Download{})
	if query != "" {
		like := "%" + query + "%"
		q = q.Where("title LIKE ? OR url LIKE ?", like, like)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	var downloads []domain.Download
	err := q.
		Preload("Source").
		Preload("FileFormat.Quality").
		Preload("FileFormat.Extension").
		Order("created_at DESC, updated_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&downloads).Error
	if err != nil {
		return nil, err
	}

	return &domain.Page{
		Items:    downloads,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// CreatedSince implements domain.Repository.
func (r *Repository) CreatedSince(ctx context.Context, since time.Time) ([]domain.Download, error) {
	var downloads []domain.Download

	err := r.preloaded(ctx).
		Where("created_at >= ? AND status <> ?", since, domain.StatusDraft).
		Order("created_at DESC, updated_at DESC, id DESC").
		Find(&downloads).Error
	if err != nil {
		return nil, err
	}

	return downloads, nil
}

// Choices implements domain.Repository.
func (r *Repository) Choices(ctx context.Context, id uint) ([]domain.Format, error) {
	var formats []domain.Format

	err := r.db.WithContext(ctx).
		Preload("Quality").
		Preload("Extension").
		Joins("JOIN download_choices ON download_choices.format_id = formats.id").
		Where("download_choices.download_id = ?", id).
		Order("formats.id").
		Find(&formats).Error
	if err != nil {
		return nil, err
	}

	return formats, nil
}

// CountByStatus implements domain.Repository.
func (r *Repository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	var rows []struct {
		Status domain.Status
		Count  int64
	}

	err := r.db.WithContext(ctx).
		Model(&domain.Download{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
