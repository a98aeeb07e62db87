package downloaders

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Command identifies which external tool handles a download.
type Command string

const (
	YoutubeDL Command = "YTDL"
	TwitchDL  Command = "TWDL"
)

// Label is the human readable name of the tool behind a command.
func (c Command) Label() string {
	switch c {
	case YoutubeDL:
		return "youtube-dl"
	case TwitchDL:
		return "twitch-dl"
	default:
		return string(c)
	}
}

// FormatInfo is one selectable stream of an extracted video.
type FormatInfo struct {
	Extension  string `json:"extension"`
	Resolution string `json:"resolution"`
	Code       string `json:"code"`
}

// Extraction is the normalized metadata every backend returns.
type Extraction struct {
	Source      string       `json:"source"`
	Title       string       `json:"title"`
	SlugID      string       `json:"slug_id"`
	ChannelName string       `json:"channel_name"`
	Formats     []FormatInfo `json:"format_info"`
}

type Request struct {
	URL        string
	Code       string
	DownloadID uint
}

type Backend interface {
	Command() Command
	Extract(ctx context.Context, url string) (*Extraction, error)
	// Download blocks until the backend exits. Progress is reported
	// through hook from the calling goroutine.
	Download(ctx context.Context, req Request, hook ProgressHook) error
	FormatSize(bytes int64) string
}

type Factory func() Backend

// Registry maps a command to the constructor of its backend.
type Registry struct {
	mu        sync.RWMutex
	factories map[Command]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Command]Factory),
	}
}

func (r *Registry) Register(cmd Command, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[cmd] = f
}

func (r *Registry) New(cmd Command) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[cmd]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no backend registered for command %q", cmd)
	}
	return f(), nil
}

func (r *Registry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]Command, 0, len(r.factories))
	for c := range r.factories {
		cmds = append(cmds, c)
	}
	slices.Sort(cmds)
	return cmds
}

type Paths struct {
	YoutubeDL  string
	TwitchDL   string
	OutputRoot string
}

// DefaultRegistry registers the youtube-dl and twitch-dl backends.
func DefaultRegistry(p Paths) *Registry {
	r := NewRegistry()
	r.Register(YoutubeDL, func() Backend {
		return NewYoutubeDownloader(p.YoutubeDL, p.OutputRoot)
	})
	r.Register(TwitchDL, func() Backend {
		return NewTwitchDownloader(p.TwitchDL, p.OutputRoot)
	})
	return r
}
