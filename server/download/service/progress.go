package service

import (
	"context"
	"errors"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/internal/kv"
)

func zeroProgress() *kv.TaskInfo {
	return &kv.TaskInfo{PercentStr: "0.0%", Percent: 0}
}

// Progress returns the download together with the state of its task.
// Only started downloads carry task details.
func (s *Service) Progress(ctx context.Context, id uint) (*domain.Progress, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if d.Status != domain.StatusStarted {
		return &domain.Progress{Download: d}, nil
	}

	p := &domain.Progress{
		Download: d,
		TaskID:   d.ActiveTaskID,
	}

	st, err := s.queue.Poll(d.ActiveTaskID)
	if errors.Is(err, kv.ErrTaskNotFound) {
		p.TaskStatus = kv.TaskPending
		p.TaskInfo = zeroProgress()
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	p.TaskStatus = st.Status

	switch st.Status {
	case kv.TaskPending, kv.TaskStarted:
		p.TaskInfo = zeroProgress()
	default:
		info := st.Info
		p.TaskInfo = &info
	}

	return p, nil
}
