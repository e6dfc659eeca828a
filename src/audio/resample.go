package audio

import (
	"fmt"
	"math"
)

// filterHalfWidth is the number of low-pass taps on each side of the centre,
// measured in output samples.
const filterHalfWidth = 8

// Resampler renders decoded audio at a fixed target rate.
type Resampler struct {
	TargetRate int
}

// NewResampler creates a resampler for targetRate.
func NewResampler(targetRate int) *Resampler {
	return &Resampler{TargetRate: targetRate}
}

// Render converts src to the target rate. The output has the same channel
// count and ceil(duration × target) frames.
func (r *Resampler) Render(src *PCM) (*PCM, error) {
	if r.TargetRate <= 0 {
		return nil, fmt.Errorf("%w: target rate must be positive, got %d", ErrDecode, r.TargetRate)
	}
	if err := src.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	frames := OutputLength(src.Len(), src.SampleRate, r.TargetRate)
	out := newPCM(src.NumChannels(), frames, r.TargetRate)

	if src.SampleRate == r.TargetRate {
		for j, ch := range src.Channels {
			copy(out.Channels[j], ch)
		}
		return out, nil
	}

	var kernel []float64
	if r.TargetRate < src.SampleRate {
		kernel = lowPassKernel(src.SampleRate, r.TargetRate)
	}

	for j, ch := range src.Channels {
		in := ch
		if kernel != nil {
			in = convolve(ch, kernel)
		}
		interpolate(in, out.Channels[j], float64(src.SampleRate)/float64(r.TargetRate))
	}
	return out, nil
}

// OutputLength returns ceil(frames × target / source) without floating point.
func OutputLength(frames, sourceRate, targetRate int) int {
	if frames <= 0 || sourceRate <= 0 || targetRate <= 0 {
		return 0
	}
	n := int64(frames) * int64(targetRate)
	return int((n + int64(sourceRate) - 1) / int64(sourceRate))
}

// interpolate fills dst by linear interpolation over src, stepping step
// source samples per output sample.
func interpolate(src []float32, dst []float32, step float64) {
	last := len(src) - 1
	for k := range dst {
		pos := float64(k) * step
		i := int(pos)
		if i >= last {
			dst[k] = src[last]
			continue
		}
		frac := pos - float64(i)
		s0, s1 := float64(src[i]), float64(src[i+1])
		dst[k] = float32(s0 + (s1-s0)*frac)
	}
}

// lowPassKernel builds a Hann-windowed sinc with cutoff at the target
// Nyquist frequency, normalised to unity gain at DC.
func lowPassKernel(sourceRate, targetRate int) []float64 {
	ratio := float64(sourceRate) / float64(targetRate)
	cutoff := 0.5 / ratio
	half := int(math.Ceil(filterHalfWidth * ratio))
	taps := 2*half + 1

	kernel := make([]float64, taps)
	var sum float64
	for n := range kernel {
		x := float64(n - half)
		sinc := 2 * cutoff
		if x != 0 {
			sinc = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		window := 0.5 - 0.5*math.Cos(2*math.Pi*float64(n)/float64(taps-1))
		kernel[n] = sinc * window
		sum += kernel[n]
	}
	for n := range kernel {
		kernel[n] /= sum
	}
	return kernel
}

// convolve applies kernel to src, holding the edge samples beyond the ends.
func convolve(src []float32, kernel []float64) []float32 {
	half := len(kernel) / 2
	last := len(src) - 1
	out := make([]float32, len(src))
	for i := range src {
		var acc float64
		for n, w := range kernel {
			idx := i + n - half
			if idx < 0 {
				idx = 0
			} else if idx > last {
				idx = last
			}
			acc += float64(src[idx]) * w
		}
		out[i] = float32(acc)
	}
	return out
}
