// Package ffprobe wraps the ffprobe binary for container inspection. The
// video pipeline uses it for the duration that brackets scene segments and
// to check for an audio stream before attempting transcription.
package ffprobe
