package prober

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
)

// ffprobeBinary is the external tool this prober shells out to, same as
// the original Python implementation's ffmpeg-python wrapper.
const ffprobeBinary = "ffprobe"

// Video returns ffprobe's format/stream probe for a video file, decoded
// into an open-shaped tag dictionary. A missing ffprobe binary is
// reported as ErrProberMissing, which WithRetry treats as fatal and
// non-retried.
func Video(path string) (map[string]any, error) {
	if _, err := exec.LookPath(ffprobeBinary); err != nil {
		return nil, ErrProberMissing
	}

	cmd := exec.Command(ffprobeBinary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("prober: ffprobe: %w: %s", err, stderr.String())
	}

	var tags map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &tags); err != nil {
		return nil, fmt.Errorf("prober: decode ffprobe output: %w", err)
	}
	return tags, nil
}
