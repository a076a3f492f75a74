// Package audio defines the sample formats and in-flight chunk type
// shared by the timing-correction, DSP and device layers.
package audio
