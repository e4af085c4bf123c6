package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pipelined/phonic"
)

// ErrNoAudio is returned when probed media has no audio stream.
var ErrNoAudio = errors.New("no audio stream")

// Info is a result of ffprobe.
type Info struct {
	Format     string
	Codec      string
	SampleRate int
	Channels   int
	// TotalFrames is -1 if length is unknown.
	TotalFrames int64
	Duration    time.Duration
	Metadata    phonic.Metadata
}

// MimeType guesses mime type of probed container.
func (i Info) MimeType() string {
	for _, name := range strings.Split(i.Format, ",") {
		if m, ok := mimeTypes[name]; ok {
			return m
		}
	}
	return "application/octet-stream"
}

var mimeTypes = map[string]string{
	"wav":      "audio/x-wav",
	"mp3":      "audio/mpeg",
	"flac":     "audio/x-flac",
	"ogg":      "audio/ogg",
	"aac":      "audio/aac",
	"adts":     "audio/aac",
	"mp4":      "audio/mp4",
	"m4a":      "audio/mp4",
	"matroska": "audio/x-matroska",
	"webm":     "audio/webm",
	"aiff":     "audio/x-aiff",
	"opus":     "audio/opus",
}

// probeOutput is the subset of ffprobe json output.
type probeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		TimeBase   string `json:"time_base"`
		DurationTS int64  `json:"duration_ts"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string            `json:"format_name"`
		Duration   string            `json:"duration"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
}

// Probe runs ffprobe against location and returns properties of the first
// audio stream.
func Probe(ctx context.Context, ffprobe, location string) (Info, error) {
	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		"-select_streams", "a:0",
		location,
	)
	var stderr buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w: %s", commandLine(cmd), err, strings.TrimSpace(stderr.String()))
	}
	return ParseProbe(out)
}

// ParseProbe parses json output of ffprobe.
func ParseProbe(b []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return Info{}, ErrNoAudio
	}
	s := out.Streams[0]
	sampleRate, err := strconv.Atoi(s.SampleRate)
	if err != nil {
		return Info{}, fmt.Errorf("parse sample rate %q: %w", s.SampleRate, err)
	}
	info := Info{
		Format:      out.Format.FormatName,
		Codec:       s.CodecName,
		SampleRate:  sampleRate,
		Channels:    s.Channels,
		TotalFrames: -1,
	}
	switch {
	case s.DurationTS > 0 && s.TimeBase == fmt.Sprintf("1/%d", sampleRate):
		info.TotalFrames = s.DurationTS
	default:
		for _, d := range []string{s.Duration, out.Format.Duration} {
			if seconds, err := strconv.ParseFloat(d, 64); err == nil && seconds > 0 {
				info.TotalFrames = int64(math.Round(seconds * float64(sampleRate)))
				break
			}
		}
	}
	if info.TotalFrames >= 0 && sampleRate > 0 {
		info.Duration = time.Duration(info.TotalFrames) * time.Second / time.Duration(sampleRate)
	}
	info.Metadata = tags(out.Format.Tags)
	return info, nil
}

// tags converts ffprobe tags into metadata sorted by name. Names are
// lower-cased, containers differ in case.
func tags(m map[string]string) phonic.Metadata {
	if len(m) == 0 {
		return nil
	}
	md := make(phonic.Metadata, 0, len(m))
	for k, v := range m {
		md = append(md, phonic.Tag{Name: strings.ToLower(k), Value: v})
	}
	sort.Slice(md, func(i, j int) bool { return md[i].Name < md[j].Name })
	return md
}

// ReadMetadata returns container tags of the media.
func ReadMetadata(ctx context.Context, location string) (phonic.Metadata, error) {
	info, err := Probe(ctx, DefaultFFprobe, location)
	if err != nil {
		return nil, err
	}
	return info.Metadata, nil
}
