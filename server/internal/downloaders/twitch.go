package downloaders

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"

	"github.com/downloadui/download-ui/server/internal/metadata"
)

// VOD playlists are remuxed into this container.
const twitchVideoContainer = "mkv"

type TwitchDownloader struct {
	binary     string
	outputRoot string
	fetch      metadata.Fetcher
}

func NewTwitchDownloader(binary, outputRoot string) *TwitchDownloader {
	return &TwitchDownloader{
		binary:     binary,
		outputRoot: outputRoot,
		fetch:      metadata.DefaultFetcher,
	}
}

func (t *TwitchDownloader) Command() Command { return TwitchDL }

func (t *TwitchDownloader) FormatSize(bytes int64) string {
	return humanize.IBytes(uint64(max(bytes, 0)))
}

// OutputTemplate uses twitch-dl placeholders.
func (t *TwitchDownloader) OutputTemplate(downloadID uint, code string) string {
	return filepath.Join(
		t.outputRoot,
		fmt.Sprintf("twitch/{title_slug}-%d-%s.{format}", downloadID, code),
	)
}

func (t *TwitchDownloader) Extract(ctx context.Context, url string) (*Extraction, error) {
	stdout, err := t.fetch(ctx, t.binary, "info", "--json", url)
	if err != nil {
		return nil, &ExtractionError{Backend: TwitchDL.Label(), Message: err.Error()}
	}
	return ParseTwitchExtraction(stdout)
}

func (t *TwitchDownloader) args(req Request) []string {
	return argsSanitizer([]string{
		"download",
		req.URL,
		"--quality", req.Code,
		"--output", t.OutputTemplate(req.DownloadID, req.Code),
	})
}

// Download reports the file twitch-dl printed last as a single finished
// event. twitch-dl has no machine readable progress output.
func (t *TwitchDownloader) Download(ctx context.Context, req Request, hook ProgressHook) error {
	consumer := &TwitchLogConsumer{}

	err := runProcess(ctx, TwitchDL.Label(), t.binary, t.args(req), func(line []byte) {
		consumer.ParseLogEntry(line, hook)
	})
	if err != nil {
		return err
	}

	if consumer.Filename() == "" {
		return &DownloadError{
			Backend: TwitchDL.Label(),
			Message: "could not find the downloaded file name in the output",
		}
	}

	hook(ProgressEvent{Status: StatusFinished, Filename: consumer.Filename()})
	return nil
}

// ParseTwitchExtraction normalizes the output of `twitch-dl info --json`.
// Clips carry a slug and a list of qualities, videos a list of playlists.
func ParseTwitchExtraction(raw []byte) (*Extraction, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || !gjson.Valid(trimmed) {
		return nil, &ExtractionError{Backend: TwitchDL.Label(), Message: errInfoNotFound}
	}

	result := gjson.Parse(trimmed)
	if !result.IsObject() || len(result.Map()) == 0 {
		return nil, &ExtractionError{Backend: TwitchDL.Label(), Message: errInfoNotFound}
	}

	var (
		identifier string
		channel    gjson.Result
		info       []FormatInfo
	)

	if result.Get("slug").Exists() {
		identifier = result.Get("slug").String()
		channel = result.Get("broadcaster")
		for _, q := range result.Get("videoQualities").Array() {
			quality := q.Get("quality").String()
			info = append(info, FormatInfo{
				Extension:  urlExt(q.Get("sourceURL").String()),
				Resolution: quality,
				Code:       quality,
			})
		}
	} else {
		identifier = result.Get("id").String()
		channel = result.Get("creator")
		for _, p := range result.Get("playlists").Array() {
			video := p.Get("video").String()
			info = append(info, FormatInfo{
				Extension:  twitchVideoContainer,
				Resolution: video,
				Code:       video,
			})
		}
	}

	return &Extraction{
		Source:      "Twitch",
		Title:       result.Get("title").String(),
		SlugID:      identifier,
		ChannelName: channel.Get("displayName").String(),
		Formats:     info,
	}, nil
}
