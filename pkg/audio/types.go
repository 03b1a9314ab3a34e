// Package audio provides the audio primitives of the voxbridge pipeline:
// capture of device samples into fixed PCM16 frames, format conversion, and
// jitter-buffered playback scheduling of provider audio.
//
// The two hardware boundaries are intentionally narrow interfaces — [Source]
// for input devices and [Player] for output devices — so that the rest of the
// bridge stays decoupled from platform audio backends and tests can substitute
// scripted fakes.
package audio

import "time"

// Frame is one fixed-duration block of captured input audio, already converted
// to 16-bit signed little-endian PCM. Frames are produced by the capture
// [Pipeline] and owned by it until handed to the adapter's send path.
type Frame struct {
	// Data is little-endian PCM16 mono samples.
	Data []byte

	// Seq increases strictly by one per captured frame.
	Seq uint64

	// Captured marks when this frame was pulled from the device.
	Captured time.Time
}

// Chunk is one unit of provider playback audio as it arrived on the wire,
// decoded to little-endian PCM16 mono samples. Chunks are owned by the
// [Scheduler] queue from Enqueue until they are played or flushed; the queue
// preserves arrival order within a turn.
type Chunk struct {
	// PCM is little-endian PCM16 mono samples.
	PCM []byte

	// Turn identifies the agent response this chunk belongs to. All chunks of
	// the current turn are discarded together on barge-in.
	Turn int
}

// Duration returns the playback duration of the chunk at the given sample rate.
func (c Chunk) Duration(sampleRate int) time.Duration {
	return PCM16Duration(len(c.PCM), sampleRate)
}

// PCM16Duration returns the duration of n bytes of mono PCM16 at sampleRate.
func PCM16Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
