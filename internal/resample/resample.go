// Package resample implements the linear-interpolation PCM16 mono
// resampler spec.md §4.2 requires, generalized from the teacher repo's
// ResampleMono helper (pkg/audio/encoder.go) to the proxy's whitelist of
// sample rates.
//
// A general-purpose resampling library was considered (see DESIGN.md)
// but not adopted: spec.md's boundary tests pin down exact clamped
// sample counts under linear interpolation specifically, which is easier
// to keep correct and testable as ~30 lines of arithmetic than as a
// black-box dependency.
package resample

import "fmt"

// Whitelist is the set of sample rates spec.md §3 allows for AudioFormat.
var Whitelist = map[int]bool{
	8000:  true,
	12000: true,
	16000: true,
	24000: true,
	48000: true,
}

// Allowed reports whether rate is one of spec.md's whitelisted sample rates.
func Allowed(rate int) bool {
	return Whitelist[rate]
}

func get16(b []byte, i int) int16 {
	return int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
}

func put16(b []byte, i int, v int16) {
	b[i*2] = byte(v)
	b[i*2+1] = byte(v >> 8)
}

// PCM16 resamples mono little-endian PCM16 bytes from srIn to srOut using
// linear interpolation. When srIn == srOut it returns input unchanged,
// without copying, per spec.md §4.2.
func PCM16(input []byte, srIn, srOut int) ([]byte, error) {
	if srIn == srOut {
		return input, nil
	}
	if !Allowed(srIn) {
		return nil, fmt.Errorf("resample: unsupported input rate %d", srIn)
	}
	if !Allowed(srOut) {
		return nil, fmt.Errorf("resample: unsupported output rate %d", srOut)
	}

	inputSamples := len(input) / 2
	if inputSamples == 0 {
		return nil, nil
	}

	ratio := float64(srOut) / float64(srIn)
	outputSamples := int(float64(inputSamples) * ratio)
	output := make([]byte, outputSamples*2)

	for i := 0; i < outputSamples; i++ {
		srcPos := float64(i) / ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		idx1 := srcIdx
		idx2 := srcIdx + 1
		if idx1 >= inputSamples {
			idx1 = inputSamples - 1
		}
		if idx2 >= inputSamples {
			idx2 = inputSamples - 1
		}

		s1 := get16(input, idx1)
		s2 := get16(input, idx2)
		sample := int16(float64(s1)*(1-frac) + float64(s2)*frac)
		put16(output, i, sample)
	}

	return output, nil
}
