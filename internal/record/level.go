package record

import "math"

// floorDB is the quietest level shown as non-zero.
const floorDB = -60.0

// Level maps the RMS of samples onto [0,1] on a logarithmic scale.
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v) / 32768
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	lvl := (db - floorDB) / -floorDB
	return math.Max(0, math.Min(1, lvl))
}

// levelPump hands the newest level to fn without ever blocking the producer.
type levelPump struct {
	fn   func(float64)
	ch   chan float64
	done chan struct{}
}

func newLevelPump(fn func(float64)) *levelPump {
	p := &levelPump{fn: fn}
	if fn == nil {
		return p
	}
	p.ch = make(chan float64, 1)
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		for v := range p.ch {
			fn(v)
		}
	}()
	return p
}

func (p *levelPump) offer(v float64) {
	if p.ch == nil {
		return
	}
	for {
		select {
		case p.ch <- v:
			return
		default:
		}
		select {
		case <-p.ch:
		default:
		}
	}
}

func (p *levelPump) close() {
	if p.ch == nil {
		return
	}
	close(p.ch)
	<-p.done
}
