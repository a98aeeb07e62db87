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

const downloadTemplate = `download:
{
	"status":"%(progress.status)s",
	"percentage":"%(progress._percent_str)s",
	"filename":"%(progress.filename)s",
	"eta":"%(progress._eta_str)s"
}`

const errInfoNotFound = "Download Information not found"

type YoutubeDownloader struct {
	binary     string
	outputRoot string
	fetch      metadata.Fetcher
}

func NewYoutubeDownloader(binary, outputRoot string) *YoutubeDownloader {
	return &YoutubeDownloader{
		binary:     binary,
		outputRoot: outputRoot,
		fetch:      metadata.DefaultFetcher,
	}
}

func (y *YoutubeDownloader) Command() Command { return YoutubeDL }

func (y *YoutubeDownloader) FormatSize(bytes int64) string {
	return humanize.IBytes(uint64(max(bytes, 0)))
}

// OutputTemplate embeds the download id so concurrent downloads of the
// same title never collide.
func (y *YoutubeDownloader) OutputTemplate(downloadID uint) string {
	return filepath.Join(
		y.outputRoot,
		fmt.Sprintf("%%(extractor_key)s/%%(title)s-%d-%%(resolution)s.%%(ext)s", downloadID),
	)
}

func (y *YoutubeDownloader) Extract(ctx context.Context, url string) (*Extraction, error) {
	stdout, err := y.fetch(ctx, y.binary, "-J", "--no-playlist", url)
	if err != nil {
		return nil, &ExtractionError{Backend: YoutubeDL.Label(), Message: err.Error()}
	}
	return ParseYoutubeExtraction(stdout)
}

func (y *YoutubeDownloader) args(req Request) []string {
	templateReplacer := strings.NewReplacer("\n", "", "\t", "", " ", "")

	return argsSanitizer([]string{
		req.URL,
		"-f", req.Code,
		"-o", y.OutputTemplate(req.DownloadID),
		"--restrict-filenames",
		"--no-playlist",
		"--no-overwrites",
		"--newline",
		"--no-colors",
		"--progress-template",
		templateReplacer.Replace(downloadTemplate),
	})
}

func (y *YoutubeDownloader) Download(ctx context.Context, req Request, hook ProgressHook) error {
	consumer := NewJSONLogConsumer(req.DownloadID)

	return runProcess(ctx, YoutubeDL.Label(), y.binary, y.args(req), func(line []byte) {
		consumer.ParseLogEntry(line, hook)
	})
}

// ParseYoutubeExtraction normalizes the output of `yt-dlp -J`.
//
// When the site serves audio separately, only video-only streams are
// offered and each is paired with the best audio. Otherwise only streams
// carrying both are offered.
func ParseYoutubeExtraction(raw []byte) (*Extraction, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || !gjson.Valid(trimmed) {
		return nil, &ExtractionError{Backend: YoutubeDL.Label(), Message: errInfoNotFound}
	}

	result := gjson.Parse(trimmed)
	if !result.IsObject() || len(result.Map()) == 0 {
		return nil, &ExtractionError{Backend: YoutubeDL.Label(), Message: errInfoNotFound}
	}

	formats := result.Get("formats").Array()

	audioExists := false
	for _, f := range formats {
		if isNone(f, "vcodec") && !isNone(f, "acodec") {
			audioExists = true
			break
		}
	}

	info := make([]FormatInfo, 0, len(formats))
	for _, f := range formats {
		if isNone(f, "vcodec") {
			continue
		}
		if audioExists != isNone(f, "acodec") {
			continue
		}

		res, ok := resolution(f)
		if !ok {
			continue
		}

		code := f.Get("format_id").String()
		if audioExists {
			code += bestAudioSuffix
		}

		info = append(info, FormatInfo{
			Extension:  f.Get("ext").String(),
			Resolution: res,
			Code:       code,
		})
	}

	return &Extraction{
		Source:      result.Get("extractor_key").String(),
		Title:       result.Get("title").String(),
		SlugID:      result.Get("id").String(),
		ChannelName: result.Get("channel").String(),
		Formats:     info,
	}, nil
}

// a missing codec field is not "none"
func isNone(f gjson.Result, field string) bool {
	return f.Get(field).String() == "none"
}

func present(f gjson.Result, field string) bool {
	v := f.Get(field)
	return v.Exists() && v.Type != gjson.Null
}

func resolution(f gjson.Result) (string, bool) {
	switch {
	case present(f, "resolution"):
		return f.Get("resolution").String(), true
	case present(f, "height") && present(f, "width"):
		return fmt.Sprintf("%sx%s", f.Get("width").String(), f.Get("height").String()), true
	case present(f, "height"):
		return f.Get("height").String() + "p", true
	case present(f, "width"):
		return f.Get("width").String() + "x?", true
	}
	return "", false
}
