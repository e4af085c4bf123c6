// Package signal provides an API to manipulate digital signals. It allows to:
//   - convert interleaved data to non-interleaved
//   - convert bit depth for int signals
//   - compare and copy blocks of samples
package signal

import (
	"encoding/binary"
	"math"
	"time"
)

// Float64 is a non-interleaved float64 signal. First dimension is a
// channel, second is a sample position within the block.
type Float64 [][]float64

const (
	// BitDepth8 is 8 bit depth.
	BitDepth8 = BitDepth(8)
	// BitDepth16 is 16 bit depth.
	BitDepth16 = BitDepth(16)
	// BitDepth24 is 24 bit depth.
	BitDepth24 = BitDepth(24)
	// BitDepth32 is 32 bit depth.
	BitDepth32 = BitDepth(32)
)

// InterInt is an interleaved int signal.
type InterInt struct {
	Data        []int
	NumChannels int
	BitDepth
}

// BitDepth contains values required for int-to-float and backward conversion.
type BitDepth int

// devider is used when int to float conversion is done.
func (bitDepth BitDepth) devider() int {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8
	case BitDepth16:
		return math.MaxInt16
	case BitDepth24:
		return 1<<23 - 1
	case BitDepth32:
		return math.MaxInt32
	default:
		return 1
	}
}

// multiplier is used when float to int conversion is done.
func (bitDepth BitDepth) multiplier() int {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8 - 1
	case BitDepth16:
		return math.MaxInt16 - 1
	case BitDepth24:
		return 1<<23 - 2
	case BitDepth32:
		return math.MaxInt32 - 1
	default:
		return 1
	}
}

// DurationOf returns time duration of passed samples for this sample rate.
func DurationOf(sampleRate int, samples int64) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// SamplesOf returns number of samples per channel in provided number of
// seconds for this sample rate.
func SamplesOf(sampleRate int, seconds float64) int64 {
	return int64(math.Round(seconds * float64(sampleRate)))
}

// AsFloat64 converts interleaved int signal to float64.
func (ints InterInt) AsFloat64() Float64 {
	if ints.Data == nil || ints.NumChannels == 0 {
		return nil
	}
	floats := make([][]float64, ints.NumChannels)
	bufSize := int(math.Ceil(float64(len(ints.Data)) / float64(ints.NumChannels)))

	// determine the devider for bit depth conversion
	devider := float64(ints.BitDepth.devider())

	for i := range floats {
		floats[i] = make([]float64, bufSize)
		pos := 0
		for j := i; j < len(ints.Data); j = j + ints.NumChannels {
			floats[i][pos] = float64(ints.Data[j]) / devider
			pos++
		}
	}
	return floats
}

// AsInterInt converts float64 signal to interleaved int.
func (floats Float64) AsInterInt(bitDepth BitDepth) []int {
	var numChannels int
	if numChannels = len(floats); numChannels == 0 {
		return nil
	}

	// determine the multiplier for bit depth conversion
	multiplier := float64(bitDepth.multiplier())

	ints := make([]int, len(floats[0])*numChannels)

	for j := range floats {
		for i := range floats[j] {
			ints[i*numChannels+j] = int(clip(floats[j][i]) * multiplier)
		}
	}
	return ints
}

// AsInterFloat32 converts float64 signal to interleaved float32.
func (floats Float64) AsInterFloat32() []float32 {
	var numChannels int
	if numChannels = len(floats); numChannels == 0 {
		return nil
	}
	result := make([]float32, len(floats[0])*numChannels)
	for j := range floats {
		for i := range floats[j] {
			result[i*numChannels+j] = float32(floats[j][i])
		}
	}
	return result
}

// AsInterPCM16 converts float64 signal to interleaved signed 16 bit
// little-endian PCM bytes.
func (floats Float64) AsInterPCM16() []byte {
	ints := floats.AsInterInt(BitDepth16)
	b := make([]byte, 2*len(ints))
	for i := range ints {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(int16(ints[i])))
	}
	return b
}

// AsInterFloat64LE converts float64 signal to interleaved float64
// little-endian bytes.
func (floats Float64) AsInterFloat64LE() []byte {
	var numChannels int
	if numChannels = len(floats); numChannels == 0 {
		return nil
	}
	b := make([]byte, 8*len(floats[0])*numChannels)
	for j := range floats {
		for i := range floats[j] {
			binary.LittleEndian.PutUint64(b[8*(i*numChannels+j):], math.Float64bits(floats[j][i]))
		}
	}
	return b
}

// FromInterFloat64LE converts interleaved float64 little-endian bytes into
// non-interleaved signal. Incomplete trailing samples are ignored.
func FromInterFloat64LE(b []byte, numChannels int) Float64 {
	if numChannels <= 0 {
		return nil
	}
	size := len(b) / 8 / numChannels
	floats := EmptyFloat64(numChannels, size)
	for i := 0; i < size; i++ {
		for j := 0; j < numChannels; j++ {
			pos := 8 * (i*numChannels + j)
			floats[j][i] = math.Float64frombits(binary.LittleEndian.Uint64(b[pos:]))
		}
	}
	return floats
}

// FromInterPCM16 converts interleaved signed 16 bit little-endian PCM bytes
// into non-interleaved signal. Incomplete trailing samples are ignored.
func FromInterPCM16(b []byte, numChannels int) Float64 {
	if numChannels <= 0 {
		return nil
	}
	ints := make([]int, len(b)/2/numChannels*numChannels)
	for i := range ints {
		ints[i] = int(int16(binary.LittleEndian.Uint16(b[2*i:])))
	}
	return InterInt{Data: ints, NumChannels: numChannels, BitDepth: BitDepth16}.AsFloat64()
}

// EmptyFloat64 returns an empty buffer of specified dimentions.
func EmptyFloat64(numChannels int, bufferSize int) Float64 {
	result := make([][]float64, numChannels)
	for i := range result {
		result[i] = make([]float64, bufferSize)
	}
	return result
}

// NumChannels returns number of channels in this sample slice
func (floats Float64) NumChannels() int {
	return len(floats)
}

// Size returns number of samples in single block in this sample slice
func (floats Float64) Size() int {
	if floats.NumChannels() == 0 {
		return 0
	}
	return len(floats[0])
}

// Append buffers set to existing one one
// new buffer is returned if b is nil
func (floats Float64) Append(source Float64) Float64 {
	if floats == nil {
		floats = make([][]float64, source.NumChannels())
		for i := range floats {
			floats[i] = make([]float64, 0, source.Size())
		}
	}
	for i := range source {
		floats[i] = append(floats[i], source[i]...)
	}
	return floats
}

// Slice creates a new copy of buffer from start position with defined legth
// if buffer doesn't have enough samples - shorten block is returned
//
// if start >= buffer size, nil is returned
// if start + len >= buffer size, len is decreased till the end of slice
// if start < 0, nil is returned
func (floats Float64) Slice(start int, len int) Float64 {
	if floats == nil || start >= floats.Size() || start < 0 {
		return nil
	}
	end := start + len
	result := make([][]float64, floats.NumChannels())
	for i := range floats {
		if end > floats.Size() {
			end = floats.Size()
		}
		result[i] = append(result[i], floats[i][start:end]...)
	}
	return result
}

// Copy returns a deep copy of the signal.
func (floats Float64) Copy() Float64 {
	if floats == nil {
		return nil
	}
	result := make([][]float64, len(floats))
	for i := range floats {
		result[i] = make([]float64, len(floats[i]))
		copy(result[i], floats[i])
	}
	return result
}

// Equal reports whether two signals have the same dimensions and
// bit-identical samples.
func (floats Float64) Equal(other Float64) bool {
	if len(floats) != len(other) {
		return false
	}
	for i := range floats {
		if len(floats[i]) != len(other[i]) {
			return false
		}
		for j := range floats[i] {
			if math.Float64bits(floats[i][j]) != math.Float64bits(other[i][j]) {
				return false
			}
		}
	}
	return true
}

func clip(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
