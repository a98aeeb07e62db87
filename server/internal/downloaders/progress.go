package downloaders

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/duke-git/lancet/v2/convertor"
	"github.com/pkg/errors"
)

const (
	StatusDownloading = "downloading"
	StatusFinished    = "finished"
)

// two-stage formats fetch the video stream first, then the audio stream
const bestAudioSuffix = "+bestaudio"

// ProgressEvent is a raw progress report from a backend.
type ProgressEvent struct {
	Status     string `json:"status"`
	PercentStr string `json:"percentage"`
	Filename   string `json:"filename"`
	ETA        string `json:"eta"`
}

type ProgressHook func(ProgressEvent)

// Update is what gets published to the task result backend. Filename is
// only set once the output file name is final.
type Update struct {
	PercentStr string
	Percent    int
	Filename   string
}

type Stage int

const (
	FirstStage Stage = iota
	SecondStage
)

// StageState is the per-attempt state threaded through Relay.
type StageState struct {
	TwoStage        bool
	Stage           Stage
	PendingFilename string
}

func NewStageState(code string) StageState {
	return StageState{
		TwoStage: strings.Contains(code, bestAudioSuffix),
		Stage:    FirstStage,
	}
}

// Relay folds one event into the state. The returned update is nil when
// nothing must be published.
func Relay(s StageState, ev ProgressEvent) (StageState, *Update, error) {
	switch ev.Status {
	case StatusFinished:
		if s.TwoStage && s.Stage == FirstStage {
			s.PendingFilename = mergedFilename(ev.Filename)
			s.Stage = SecondStage
			return s, nil, nil
		}

		filename := ev.Filename
		if s.TwoStage {
			filename = s.PendingFilename
		}
		return s, &Update{Filename: filename}, nil

	case StatusDownloading:
		raw := strings.TrimSpace(ev.PercentStr)
		percent, err := convertor.ToFloat(strings.TrimSuffix(raw, "%"))
		if err != nil {
			return s, nil, errors.Wrapf(err, "unparsable percentage %q", ev.PercentStr)
		}
		percent = math.Max(0, math.Min(100, percent))

		percentStr := raw
		if s.TwoStage {
			percent = percent / 2
			if s.Stage == SecondStage {
				percent += 50
			}
			percentStr = fmt.Sprintf("%.1f%%", percent)
		}

		return s, &Update{
			PercentStr: percentStr,
			Percent:    int(math.RoundToEven(percent)),
		}, nil
	}

	return s, nil, nil
}

// "video.f137.mp4" -> "video.mp4"
func mergedFilename(stageFilename string) string {
	ext := filepath.Ext(stageFilename)
	stem := strings.TrimSuffix(stageFilename, ext)
	return strings.TrimSuffix(stem, filepath.Ext(stem)) + ext
}
