package speechgate

// pcmBytesPerSecond is the payload rate for the 16 kHz 16-bit mono PCM the
// provider accepts.
const pcmBytesPerSecond = 32000

// EstimateCost provides a rough base-unit cost estimate for a sample before
// the provider call, derived from the audio payload size. The authoritative
// cost is computed from the measured audio duration after the call.
func EstimateCost(sample Sample) int64 {
	seconds := int64(len(sample.Audio)) / pcmBytesPerSecond
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
