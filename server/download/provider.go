package download

import (
	"sync"

	"gorm.io/gorm"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/download/repository"
	"github.com/downloadui/download-ui/server/download/rest"
	"github.com/downloadui/download-ui/server/download/service"
	"github.com/downloadui/download-ui/server/download/task"
)

var (
	repo   domain.Repository
	svc    domain.Service
	hand   domain.RestHandler
	runner *task.Runner

	repoOnce   sync.Once
	svcOnce    sync.Once
	handOnce   sync.Once
	runnerOnce sync.Once
)

func provideRepository(db *gorm.DB) domain.Repository {
	repoOnce.Do(func() {
		repo = repository.New(db)
	})
	return repo
}

func provideService(r domain.Repository, args *ContainerArgs) domain.Service {
	svcOnce.Do(func() {
		svc = service.New(
			r,
			args.Catalog,
			args.Files,
			args.Queue,
			args.Results,
			args.Registry,
			args.Options,
		)
	})
	return svc
}

func provideHandler(s domain.Service) domain.RestHandler {
	handOnce.Do(func() {
		hand = rest.New(s)
	})
	return hand
}

func provideRunner(r domain.Repository, args *ContainerArgs) *task.Runner {
	runnerOnce.Do(func() {
		runner = task.NewRunner(r, args.Registry, args.Files, args.Results)
	})
	return runner
}
