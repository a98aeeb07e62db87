package status

import (
	"context"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/internal/kv"
	"github.com/downloadui/download-ui/server/internal/queue"
)

type DownloadCounter interface {
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
}

type TaskCounter interface {
	CountByStatus() map[kv.TaskStatus]int
}

type QueueStats interface {
	Stats() queue.Stats
}

type Sources struct {
	Downloads DownloadCounter
	Tasks     TaskCounter
	Queue     QueueStats
}

type Status struct {
	Downloads map[domain.Status]int64 `json:"downloads"`
	Tasks     map[kv.TaskStatus]int   `json:"tasks"`
	Queue     queue.Stats             `json:"queue"`
}

type Service struct {
	src *Sources
}

func NewService(src *Sources) *Service {
	return &Service{src: src}
}

// Status reports every download status, including the empty ones.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	counts, err := s.src.Downloads.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	downloads := make(map[domain.Status]int64, len(domain.Statuses))
	for _, st := range domain.Statuses {
		downloads[st] = counts[st]
	}

	return &Status{
		Downloads: downloads,
		Tasks:     s.src.Tasks.CountByStatus(),
		Queue:     s.src.Queue.Stats(),
	}, nil
}
