package download

import (
	"gorm.io/gorm"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/download/service"
	"github.com/downloadui/download-ui/server/download/task"
	"github.com/downloadui/download-ui/server/internal/catalog"
	"github.com/downloadui/download-ui/server/internal/downloaders"
	"github.com/downloadui/download-ui/server/internal/kv"
	"github.com/downloadui/download-ui/server/internal/queue"
	"github.com/downloadui/download-ui/server/internal/storage"
)

type ContainerArgs struct {
	DB       *gorm.DB
	Results  *kv.Store
	Queue    *queue.MessageQueue
	Registry *downloaders.Registry
	Catalog  *catalog.Catalog
	Files    *storage.Local
	Options  service.Options
}

func Container(args *ContainerArgs) domain.RestHandler {
	var (
		r = provideRepository(args.DB)
		s = provideService(r, args)
		h = provideHandler(s)
	)
	return h
}

// Reconciler is the service behind the periodic sweep.
func Reconciler(args *ContainerArgs) task.Reconciler {
	return provideService(provideRepository(args.DB), args)
}

// Runner is the queue handler executing started downloads.
func Runner(args *ContainerArgs) *task.Runner {
	return provideRunner(provideRepository(args.DB), args)
}

// Repository exposes the download counts to the status endpoint.
func Repository(args *ContainerArgs) domain.Repository {
	return provideRepository(args.DB)
}
