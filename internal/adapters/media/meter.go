package media

import (
	"math"
	"sync"
	"time"

	"github.com/dkeye/Realm/internal/domain"
)

// Meter is the headless playback sink: instead of driving a speaker it keeps
// the last RMS level heard from each remote user.
type Meter struct {
	now func() time.Time

	mu     sync.RWMutex
	levels map[domain.UserID]Level
}

type Level struct {
	RMS  float64   `json:"rms"`
	Peak float64   `json:"peak"`
	At   time.Time `json:"at"`
}

func NewMeter() *Meter {
	return &Meter{now: time.Now, levels: make(map[domain.UserID]Level)}
}

func (m *Meter) Play(from domain.UserID, pcm []float32) {
	if len(pcm) == 0 {
		return
	}
	var sum, peak float64
	for _, s := range pcm {
		v := float64(s)
		sum += v * v
		peak = math.Max(peak, math.Abs(v))
	}
	lvl := Level{RMS: math.Sqrt(sum / float64(len(pcm))), Peak: peak, At: m.now()}

	m.mu.Lock()
	m.levels[from] = lvl
	m.mu.Unlock()
}

// Levels returns a copy of the latest level per user.
func (m *Meter) Levels() map[domain.UserID]Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.UserID]Level, len(m.levels))
	for k, v := range m.levels {
		out[k] = v
	}
	return out
}

// Forget drops the last level reported for user.
func (m *Meter) Forget(user domain.UserID) {
	m.mu.Lock()
	delete(m.levels, user)
	m.mu.Unlock()
}
