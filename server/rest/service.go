package rest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/internal/downloaders"
	"github.com/downloadui/download-ui/server/internal/metadata"
)

const Version = "1.0.0"

var metadataFetcher metadata.Fetcher = metadata.DefaultFetcher

type CommandLister interface {
	Commands(ctx context.Context) ([]domain.Command, error)
}

type ReconcileRunner interface {
	Run(ctx context.Context) (int, error)
}

type Service struct {
	commands CommandLister
	sweeper  ReconcileRunner
	binaries map[downloaders.Command]string
	fetch    metadata.Fetcher
}

func NewService(
	commands CommandLister,
	sweeper ReconcileRunner,
	binaries map[downloaders.Command]string,
	fetch metadata.Fetcher,
) *Service {
	return &Service{
		commands: commands,
		sweeper:  sweeper,
		binaries: binaries,
		fetch:    fetch,
	}
}

func (s *Service) Commands(ctx context.Context) ([]domain.Command, error) {
	return s.commands.Commands(ctx)
}

func (s *Service) Reconcile(ctx context.Context) (int, error) {
	start := time.Now()

	n, err := s.sweeper.Run(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "reconcile")
	}

	slog.Info("manual reconciliation done",
		slog.Int("demoted", n),
		slog.Duration("took", time.Since(start)),
	)
	return n, nil
}

type VersionInfo struct {
	Server   string                         `json:"server"`
	Backends map[downloaders.Command]string `json:"backends"`
}

// GetVersion asks every backend binary for its version. A binary that
// does not answer in time is reported as unavailable.
func (s *Service) GetVersion(ctx context.Context) (*VersionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	versions := make([]string, 0, len(s.binaries))
	cmds := make([]downloaders.Command, 0, len(s.binaries))
	for cmd := range s.binaries {
		cmds = append(cmds, cmd)
		versions = append(versions, "")
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i, cmd := range cmds {
		eg.Go(func() error {
			out, err := s.fetch(ctx, s.binaries[cmd], "--version")
			if err != nil {
				slog.Warn("cannot read backend version", slog.String("command", string(cmd)), slog.Any("err", err))
				versions[i] = domain.NotAvailable
				return nil
			}
			versions[i] = strings.TrimSpace(string(out))
			return nil
		})
	}
	eg.Wait()

	info := &VersionInfo{
		Server:   Version,
		Backends: make(map[downloaders.Command]string, len(cmds)),
	}
	for i, cmd := range cmds {
		info.Backends[cmd] = versions[i]
	}
	return info, nil
}
