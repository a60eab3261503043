package scenario

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

func Generate(name string) (Execution, error) {
	g, ok := generators[name]
	if !ok {
		return Execution{}, fmt.Errorf("generator %q not found", name)
	}
	return generate(g()), nil
}

func Generators() []string {
	var s []string
	for name := range generators {
		s = append(s, name)
	}
	sort.Strings(s)
	return s
}

func generate(e exec) Execution {
	s := make([]Step, 0, e.length)
	for i := 0; i < e.length; i++ {
		s = append(s, Step{
			AllocBytes:   uint64(e.allocBytes.quantize(1024).min(0)()),
			ObjectSize:   uint64(e.objectSize.quantize(8).min(8)()),
			SurvivalFrac: e.survivalFrac.limit(0, 1)(),
			RetainFrac:   e.retainFrac.limit(0, 1)(),
			ManualGC:     e.manualGC != nil && e.manualGC() > 0,
		})
	}
	return Execution{
		Globals: e.globals,
		Steps:   s,
	}
}

type exec struct {
	globals Globals

	allocBytes   stream
	objectSize   stream
	survivalFrac stream
	retainFrac   stream
	manualGC     stream
	length       int
}

var defaultGlobals = Globals{
	Threads:     4,
	InitialHeap: 2 << 20,
}

var generators = map[string]func() exec{
	"steady": func() exec {
		return exec{
			globals:      defaultGlobals,
			allocBytes:   constant(1 << 20),
			objectSize:   constant(256),
			survivalFrac: constant(0.05),
			retainFrac:   constant(0.5),
			length:       50,
		}
	},
	"step-alloc": func() exec {
		return exec{
			globals:      defaultGlobals,
			allocBytes:   constant(1 << 20).mix(ramp(1<<20, 1).delay(50)),
			objectSize:   constant(256),
			survivalFrac: constant(0.05),
			retainFrac:   constant(0.5),
			length:       100,
		}
	},
	"heavy-step-alloc": func() exec {
		return exec{
			globals:      defaultGlobals,
			allocBytes:   constant(1 << 20).mix(ramp(10<<20, 1).delay(50)),
			objectSize:   constant(256),
			survivalFrac: constant(0.05),
			retainFrac:   constant(0.5),
			length:       100,
		}
	},
	"osc-alloc": func() exec {
		return exec{
			globals:      defaultGlobals,
			allocBytes:   oscillate(1<<20, 0, 8).offset(2 << 20),
			objectSize:   constant(256),
			survivalFrac: constant(0.05),
			retainFrac:   constant(0.5),
			length:       50,
		}
	},
	"jitter-alloc": func() exec {
		return exec{
			globals:      defaultGlobals,
			allocBytes:   random(1 << 20).offset(2 << 20),
			objectSize:   constant(256).mix(random(64)),
			survivalFrac: constant(0.05).mix(random(0.01)),
			retainFrac:   constant(0.5),
			length:       50,
		}
	},
	"growing-heap": func() exec {
		return exec{
			globals:      defaultGlobals,
			allocBytes:   constant(1 << 20),
			objectSize:   constant(256),
			survivalFrac: constant(0.2),
			retainFrac:   constant(1),
			length:       50,
		}
	},
	"shrinking-heap": func() exec {
		return exec{
			globals: Globals{
				Threads:     4,
				InitialHeap: 256 << 20,
			},
			allocBytes:   constant(1 << 20),
			objectSize:   constant(256),
			survivalFrac: constant(0.01),
			retainFrac:   constant(1).mix(ramp(-0.5, 10).delay(10)),
			length:       50,
		}
	},
	"big-objects": func() exec {
		return exec{
			globals:      defaultGlobals,
			allocBytes:   constant(8 << 20),
			objectSize:   constant(1 << 20),
			survivalFrac: constant(0.1),
			retainFrac:   constant(0.5),
			length:       50,
		}
	},
	"many-threads": func() exec {
		return exec{
			globals: Globals{
				Threads:     32,
				InitialHeap: 2 << 20,
			},
			allocBytes:   random(64 << 10).offset(256 << 10),
			objectSize:   constant(128),
			survivalFrac: constant(0.05),
			retainFrac:   constant(0.5),
			length:       50,
		}
	},
	"manual-gc": func() exec {
		return exec{
			globals:      defaultGlobals,
			allocBytes:   constant(512 << 10),
			objectSize:   constant(256),
			survivalFrac: constant(0.05),
			retainFrac:   constant(0.5),
			manualGC:     pulse(10),
			length:       50,
		}
	},
}

type stream func() float64

func constant(c float64) stream {
	return func() float64 {
		return c
	}
}

// pulse is 1 every period-th call and 0 otherwise.
func pulse(period int) stream {
	var cycle int
	return func() float64 {
		cycle++
		if cycle == period {
			cycle = 0
			return 1
		}
		return 0
	}
}

func oscillate(amp, phase float64, period int) stream {
	var cycle int
	return func() float64 {
		p := float64(cycle)/float64(period)*2*math.Pi + phase
		cycle++
		if cycle == period {
			cycle = 0
		}
		return math.Sin(p) * amp
	}
}

func ramp(height float64, length int) stream {
	var cycle int
	return func() float64 {
		h := height * float64(cycle) / float64(length)
		if cycle < length {
			cycle++
		}
		return h
	}
}

func random(amp float64) stream {
	return func() float64 {
		return ((rand.Float64() - 0.5) * 2) * amp
	}
}

func (f stream) delay(cycles int) stream {
	buf := make([]float64, 0, cycles)
	next := 0
	return func() float64 {
		old := f()
		if len(buf) < cap(buf) {
			buf = append(buf, old)
			return 0
		}
		res := buf[next]
		buf[next] = old
		next++
		if next == len(buf) {
			next = 0
		}
		return res
	}
}

func (f stream) offset(amt float64) stream {
	return func() float64 {
		return f() + amt
	}
}

func (f stream) mix(fs ...stream) stream {
	return func() float64 {
		sum := f()
		for _, s := range fs {
			sum += s()
		}
		return sum
	}
}

func (f stream) quantize(mult float64) stream {
	return func() float64 {
		r := f() / mult
		if r < 0 {
			return math.Ceil(r) * mult
		}
		return math.Floor(r) * mult
	}
}

func (f stream) min(min float64) stream {
	return func() float64 {
		return math.Max(min, f())
	}
}

func (f stream) limit(min, max float64) stream {
	return func() float64 {
		v := f()
		if v < min {
			v = min
		} else if v > max {
			v = max
		}
		return v
	}
}
