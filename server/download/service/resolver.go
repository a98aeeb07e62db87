package service

import (
	"context"
	"log/slog"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/pkg/errors"

	"github.com/downloadui/download-ui/server/download/domain"
)

// FindSameVideo returns the completed downloads of slugID that still have
// their file.
func (s *Service) FindSameVideo(ctx context.Context, slugID string) ([]domain.Download, error) {
	return s.findCompleted(ctx, slugID, nil)
}

// FindSameVideoAndFormat is FindSameVideo restricted to one format.
func (s *Service) FindSameVideoAndFormat(ctx context.Context, slugID string, formatID uint) ([]domain.Download, error) {
	return s.findCompleted(ctx, slugID, &formatID)
}

func (s *Service) findCompleted(ctx context.Context, slugID string, formatID *uint) ([]domain.Download, error) {
	candidates, err := s.repo.FindCompleted(ctx, slugID, formatID)
	if err != nil {
		return nil, err
	}

	checked := make([]domain.Download, 0, len(candidates))
	for i := range candidates {
		d, err := s.markMissingIfGone(ctx, &candidates[i])
		if err != nil {
			return nil, err
		}
		checked = append(checked, *d)
	}

	return slice.Filter(checked, func(_ int, d domain.Download) bool {
		return d.Status == domain.StatusCompleted
	}), nil
}

// markMissingIfGone demotes a completed download whose file disappeared
// and returns the current row.
func (s *Service) markMissingIfGone(ctx context.Context, d *domain.Download) (*domain.Download, error) {
	if d.Status != domain.StatusCompleted || s.files.Exists(d.FilePath) {
		return d, nil
	}

	updated, err := s.repo.Transition(ctx, d.ID, func(dl *domain.Download) error {
		if dl.Status != domain.StatusCompleted {
			return nil
		}
		return dl.MoveTo(domain.StatusMissing)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mark download %d as missing", d.ID)
	}

	if updated.Status == domain.StatusMissing {
		slog.Info("download file is missing",
			slog.Uint64("download", uint64(d.ID)),
			slog.String("path", d.FilePath),
		)
	}

	return updated, nil
}
