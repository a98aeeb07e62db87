package rest

import (
	"github.com/downloadui/download-ui/server/download/task"
	"github.com/downloadui/download-ui/server/internal/catalog"
	"github.com/downloadui/download-ui/server/internal/downloaders"
	"github.com/downloadui/download-ui/server/internal/metadata"
)

type ContainerArgs struct {
	Catalog  *catalog.Catalog
	Sweeper  *task.Sweeper
	Binaries map[downloaders.Command]string
	Fetch    metadata.Fetcher
}
