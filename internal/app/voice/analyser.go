package voice

import (
	"math"
	"math/bits"
	"sync"
)

const (
	DefaultFFTSize      = 256
	defaultSmoothing    = 0.8
	defaultMinDecibels  = -100.0
	defaultMaxDecibels  = -30.0
	LocalThreshold      = 15.0
	RemoteThreshold     = 10.0
	blackmanAlpha       = 0.16
	blackmanA0          = (1 - blackmanAlpha) / 2
	blackmanA1          = 0.5
	blackmanA2          = blackmanAlpha / 2
	maxByteFrequencyVal = 255
)

// Analyser reproduces the browser AnalyserNode's byte frequency data over a
// sliding window of the most recent samples. Write and Level may be called
// from different goroutines.
type Analyser struct {
	size      int
	smoothing float64
	minDB     float64
	maxDB     float64

	mu     sync.Mutex
	ring   []float32
	pos    int
	filled bool

	window   []float64
	smoothed []float64
	re, im   []float64
	bytes    []uint8
}

// NewAnalyser panics unless fftSize is a power of two in [32, 32768].
func NewAnalyser(fftSize int) *Analyser {
	if fftSize < 32 || fftSize > 32768 || bits.OnesCount(uint(fftSize)) != 1 {
		panic("voice: fft size must be a power of two in [32, 32768]")
	}
	a := &Analyser{
		size:      fftSize,
		smoothing: defaultSmoothing,
		minDB:     defaultMinDecibels,
		maxDB:     defaultMaxDecibels,
		ring:      make([]float32, fftSize),
		window:    make([]float64, fftSize),
		smoothed:  make([]float64, fftSize/2),
		re:        make([]float64, fftSize),
		im:        make([]float64, fftSize),
		bytes:     make([]uint8, fftSize/2),
	}
	n := float64(fftSize)
	for i := range a.window {
		x := float64(i) / n
		a.window[i] = blackmanA0 - blackmanA1*math.Cos(2*math.Pi*x) + blackmanA2*math.Cos(4*math.Pi*x)
	}
	return a
}

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int { return a.size / 2 }

// Write appends samples in [-1, 1] to the analysis window.
func (a *Analyser) Write(pcm []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range pcm {
		a.ring[a.pos] = s
		a.pos++
		if a.pos == a.size {
			a.pos = 0
			a.filled = true
		}
	}
}

// ByteFrequencyData computes one analysis frame, updating the smoothing
// state, and copies the result into dst.
func (a *Analyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Oldest sample first, zero padded until the ring has wrapped once.
	for i := range a.size {
		var s float32
		if a.filled {
			s = a.ring[(a.pos+i)%a.size]
		} else if i >= a.size-a.pos {
			s = a.ring[i-(a.size-a.pos)]
		}
		a.re[i] = float64(s) * a.window[i]
		a.im[i] = 0
	}
	fft(a.re, a.im)

	scale := 1 / float64(a.size)
	rangeScale := maxByteFrequencyVal / (a.maxDB - a.minDB)
	for k := range a.smoothed {
		mag := math.Hypot(a.re[k], a.im[k]) * scale
		v := a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		a.smoothed[k] = v

		db := math.Inf(-1)
		if v > 0 {
			db = 20 * math.Log10(v)
		}
		b := math.Floor(rangeScale * (db - a.minDB))
		switch {
		case b < 0 || math.IsNaN(b):
			b = 0
		case b > maxByteFrequencyVal:
			b = maxByteFrequencyVal
		}
		a.bytes[k] = uint8(b)
	}
	copy(dst, a.bytes)
}

// Level is the mean of one ByteFrequencyData frame.
func (a *Analyser) Level() float64 {
	buf := make([]uint8, a.size/2)
	a.ByteFrequencyData(buf)
	var sum int
	for _, v := range buf {
		sum += int(v)
	}
	return float64(sum) / float64(len(buf))
}

// Reset clears the window and smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
	a.filled = false
}

// fft is an in-place iterative radix-2 transform; len(re) must be a power of two.
func fft(re, im []float64) {
	n := len(re)
	shift := 64 - bits.Len(uint(n-1))
	for i := range n {
		j := int(bits.Reverse64(uint64(i)) >> shift)
		if j > i {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		step := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := range half {
				wr, wi := math.Cos(step*float64(k)), math.Sin(step*float64(k))
				a, b := start+k, start+k+half
				tr := wr*re[b] - wi*im[b]
				ti := wr*im[b] + wi*re[b]
				re[b], im[b] = re[a]-tr, im[a]-ti
				re[a], im[a] = re[a]+tr, im[a]+ti
			}
		}
	}
}

// SpeakingDetector turns analyser levels into a boolean with a fixed threshold.
type SpeakingDetector struct {
	Analyser  *Analyser
	Threshold float64
	speaking  bool
}

// Sample runs one frame and reports the state and whether it changed.
func (d *SpeakingDetector) Sample() (speaking, changed bool) {
	now := d.Analyser.Level() > d.Threshold
	changed = now != d.speaking
	d.speaking = now
	return now, changed
}
