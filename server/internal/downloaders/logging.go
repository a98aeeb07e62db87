package downloaders

import (
	"encoding/json"
	"log/slog"
	"regexp"
)

// LogConsumer turns stdout lines of a backend process into progress events.
type LogConsumer interface {
	GetName() string
	ParseLogEntry(entry []byte, hook ProgressHook)
}

// JSONLogConsumer reads the lines printed by yt-dlp's progress template.
type JSONLogConsumer struct {
	downloadID uint
}

func NewJSONLogConsumer(downloadID uint) *JSONLogConsumer {
	return &JSONLogConsumer{downloadID: downloadID}
}

func (j *JSONLogConsumer) GetName() string { return "json-log-consumer" }

func (j *JSONLogConsumer) ParseLogEntry(entry []byte, hook ProgressHook) {
	var ev ProgressEvent
	if err := json.Unmarshal(entry, &ev); err != nil || ev.Status == "" {
		slog.Debug("backend output",
			slog.Uint64("download", uint64(j.downloadID)),
			slog.String("line", string(entry)),
		)
		return
	}

	slog.Debug("progress",
		slog.Uint64("download", uint64(j.downloadID)),
		slog.String("status", ev.Status),
		slog.String("percentage", ev.PercentStr),
		slog.String("eta", ev.ETA),
	)

	hook(ev)
}

var downloadedLine = regexp.MustCompile(`Downloaded: (\S*)`)

// TwitchLogConsumer remembers the last file twitch-dl reports as
// downloaded. It never calls the hook itself.
type TwitchLogConsumer struct {
	filename string
}

func (t *TwitchLogConsumer) GetName() string { return "twitch-log-consumer" }

func (t *TwitchLogConsumer) ParseLogEntry(entry []byte, _ ProgressHook) {
	matches := downloadedLine.FindAllStringSubmatch(stripANSI(string(entry)), -1)
	if len(matches) == 0 {
		return
	}
	t.filename = matches[len(matches)-1][1]
}

func (t *TwitchLogConsumer) Filename() string { return t.filename }
