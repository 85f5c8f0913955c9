package voice

import (
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
)

// MinSampleDuration is the shortest WAV recording accepted for registration.
const MinSampleDuration = 3 * time.Second

type SampleTooShortError struct {
	Duration time.Duration
	Min      time.Duration
}

func (e *SampleTooShortError) Error() string {
	return fmt.Sprintf("voice sample is %s long, need at least %s", e.Duration.Round(time.Millisecond), e.Min)
}

// CheckSample measures a WAV recording and rejects it when it is shorter
// than MinSampleDuration. Other formats are left to the extractor. The
// reader is rewound before returning.
func CheckSample(audio io.ReadSeeker) (time.Duration, error) {
	dur, measured := wavDuration(audio)
	if _, err := audio.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind sample: %w", err)
	}
	if measured && dur < MinSampleDuration {
		return dur, &SampleTooShortError{Duration: dur, Min: MinSampleDuration}
	}
	return dur, nil
}

func wavDuration(audio io.ReadSeeker) (time.Duration, bool) {
	d := wav.NewDecoder(audio)
	if !d.IsValidFile() {
		return 0, false
	}
	dur, err := d.Duration()
	if err != nil {
		return 0, false
	}
	return dur, true
}
