package stealth

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Cadence bounds for TypeWithCadence.
const (
	MinKeystrokeDelay = 30 * time.Millisecond
	MaxKeystrokeDelay = 100 * time.Millisecond
	MinBurstPause     = 200 * time.Millisecond
	MaxBurstPause     = 500 * time.Millisecond
	MinBurstLength    = 10
	MaxBurstLength    = 20
)

// Typer receives one text insertion per call.
type Typer interface {
	Input(text string) error
}

// Mouse moves the pointer in viewport coordinates.
type Mouse interface {
	MoveMouse(x, y float64) error
}

// Pacer produces human-like delays. Sleep is swappable so tests can record
// durations instead of waiting.
type Pacer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(time.Duration)
}

// NewPacer returns a pacer backed by time.Sleep.
func NewPacer() *Pacer {
	return NewPacerWith(rand.NewSource(time.Now().UnixNano()), time.Sleep)
}

// NewPacerWith returns a pacer with an explicit random source and sleeper.
func NewPacerWith(src rand.Source, sleep func(time.Duration)) *Pacer {
	return &Pacer{rng: rand.New(src), sleep: sleep}
}

func (p *Pacer) int63n(n int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Int63n(n)
}

func (p *Pacer) float64() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

func (p *Pacer) intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

// Duration returns a uniformly sampled duration in [min, max).
func (p *Pacer) Duration(min, max time.Duration) time.Duration {
	if min >= max {
		return min
	}
	return min + time.Duration(p.int63n(int64(max-min)))
}

// RandomDelay sleeps for a uniformly sampled duration in [min, max) and
// returns it.
func (p *Pacer) RandomDelay(min, max time.Duration) time.Duration {
	d := p.Duration(min, max)
	p.sleep(d)
	return d
}

// Pause sleeps for exactly d.
func (p *Pacer) Pause(d time.Duration) {
	p.sleep(d)
}

// burstLength samples how many characters are typed before the next pause.
func (p *Pacer) burstLength() int {
	return MinBurstLength + p.intn(MaxBurstLength-MinBurstLength+1)
}

// TypeWithCadence types text one character at a time. Every keystroke is
// followed by a delay in [30,100) ms, and after each run of 10–20 characters
// (length re-sampled per run) an extra pause in [200,500) ms is inserted.
func (p *Pacer) TypeWithCadence(t Typer, text string) error {
	run := p.burstLength()
	sinceBreak := 0

	for _, char := range text {
		if err := t.Input(string(char)); err != nil {
			return err
		}
		p.RandomDelay(MinKeystrokeDelay, MaxKeystrokeDelay)

		sinceBreak++
		if sinceBreak >= run {
			p.RandomDelay(MinBurstPause, MaxBurstPause)
			sinceBreak = 0
			run = p.burstLength()
		}
	}

	return nil
}

// Point represents a 2D coordinate
type Point struct {
	X float64
	Y float64
}

// MoveMouse moves the pointer from a random point near the top-left corner
// to the target along a cubic Bézier path, easing in and out.
func (p *Pacer) MoveMouse(m Mouse, targetX, targetY float64) error {
	start := Point{X: p.float64() * 100, Y: p.float64() * 100}
	end := Point{X: targetX, Y: targetY}

	cp := p.controlPoints(start, end)
	path := CubicBezierCurve(start, end, cp[0], cp[1], 50)

	for i, point := range path {
		if err := m.MoveMouse(point.X, point.Y); err != nil {
			return err
		}
		p.sleep(mouseStepDelay(float64(i) / float64(len(path))))
	}

	// Slight overshoot and correction
	if p.float64() < 0.3 {
		if err := m.MoveMouse(targetX+(p.float64()-0.5)*5, targetY+(p.float64()-0.5)*5); err != nil {
			return err
		}
		p.RandomDelay(10*time.Millisecond, 30*time.Millisecond)
		return m.MoveMouse(targetX, targetY)
	}

	return nil
}

// CubicBezierCurve generates points along a cubic Bézier curve
func CubicBezierCurve(start, end, control1, control2 Point, steps int) []Point {
	points := make([]Point, steps)

	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)

		// B(t) = (1-t)³P₀ + 3(1-t)²tP₁ + 3(1-t)t²P₂ + t³P₃
		oneMinusT := 1 - t

		points[i] = Point{
			X: math.Pow(oneMinusT, 3)*start.X +
				3*math.Pow(oneMinusT, 2)*t*control1.X +
				3*oneMinusT*math.Pow(t, 2)*control2.X +
				math.Pow(t, 3)*end.X,
			Y: math.Pow(oneMinusT, 3)*start.Y +
				3*math.Pow(oneMinusT, 2)*t*control1.Y +
				3*oneMinusT*math.Pow(t, 2)*control2.Y +
				math.Pow(t, 3)*end.Y,
		}
	}

	return points
}

// controlPoints places two control points at 1/3 and 2/3 of the segment,
// each pushed off the line by up to 15% of its length.
func (p *Pacer) controlPoints(start, end Point) [2]Point {
	dx := end.X - start.X
	dy := end.Y - start.Y
	distance := math.Sqrt(dx*dx + dy*dy)

	perpAngle := math.Atan2(dy, dx) + math.Pi/2

	offset1 := (p.float64() - 0.5) * distance * 0.3
	offset2 := (p.float64() - 0.5) * distance * 0.3

	return [2]Point{
		{
			X: start.X + dx/3 + math.Cos(perpAngle)*offset1,
			Y: start.Y + dy/3 + math.Sin(perpAngle)*offset1,
		},
		{
			X: start.X + 2*dx/3 + math.Cos(perpAngle)*offset2,
			Y: start.Y + 2*dy/3 + math.Sin(perpAngle)*offset2,
		},
	}
}

// mouseStepDelay is slower at the ends of the path than in the middle.
func mouseStepDelay(progress float64) time.Duration {
	speed := 1 - math.Abs(2*progress-1)
	baseDelay := 10 * time.Millisecond
	return time.Duration(float64(baseDelay) / (speed + 0.5))
}
