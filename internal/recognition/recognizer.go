package recognition

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/Cyansiiii/attendance/internal/apiclient"
	"github.com/Cyansiiii/attendance/internal/faceclient"
)

// BatchSize caps how many students one recognition pass may identify.
const BatchSize = 3

// Frame is one captured image. The browser supplies the capture in
// production; the simulator works without one.
type Frame struct {
	ImageURL string `json:"image_url,omitempty"`
}

// Recognizer is the pluggable recognition capability: the production
// implementation calls the external face service, the simulator samples the
// candidate set at random. Both honor BatchSize.
type Recognizer interface {
	Capture(ctx context.Context) (Frame, error)
	Recognize(ctx context.Context, frame Frame, candidates []apiclient.Student) ([]apiclient.Student, error)
}

// Simulator picks up to BatchSize candidates at random. It stands in for
// real inference so the edit and save machinery can be exercised end to end.
type Simulator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulator seeds the sampler; seed 0 uses the clock.
func NewSimulator(seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{rnd: rand.New(rand.NewSource(seed))}
}

// Capture returns an empty frame; the simulator needs no camera.
func (s *Simulator) Capture(ctx context.Context) (Frame, error) {
	return Frame{}, nil
}

// Recognize samples up to BatchSize candidates without replacement. An empty
// candidate set yields an empty result, not an error.
func (s *Simulator) Recognize(ctx context.Context, _ Frame, candidates []apiclient.Student) ([]apiclient.Student, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	pool := append([]apiclient.Student(nil), candidates...)
	s.mu.Lock()
	s.rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	s.mu.Unlock()
	if len(pool) > BatchSize {
		pool = pool[:BatchSize]
	}
	return pool, nil
}

// Service recognizes students through the external face service by searching
// the enrolled gallery and intersecting the hits with the candidate set.
type Service struct {
	face      *faceclient.Client
	threshold float64
}

// NewService wraps a face service client.
func NewService(face *faceclient.Client, threshold float64) *Service {
	return &Service{face: face, threshold: threshold}
}

// Capture is not supported server-side; the frame must come with the request.
func (s *Service) Capture(ctx context.Context) (Frame, error) {
	return Frame{}, ErrNoFrame
}

// Recognize searches the gallery for the frame and returns the candidate
// students the service identified, capped at BatchSize.
func (s *Service) Recognize(ctx context.Context, frame Frame, candidates []apiclient.Student) ([]apiclient.Student, error) {
	if frame.ImageURL == "" {
		return nil, ErrNoFrame
	}
	result, err := s.face.Search(ctx, frame.ImageURL, BatchSize, s.threshold)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]apiclient.Student, len(candidates))
	for _, st := range candidates {
		byID[st.ID] = st
	}
	var out []apiclient.Student
	for _, m := range result.Matches {
		if st, ok := byID[m.StudentID]; ok {
			out = append(out, st)
			if len(out) == BatchSize {
				break
			}
		}
	}
	return out, nil
}
