package rules

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
)

// Roller produces die results. Implementations must return values in [1,sides].
type Roller interface {
	Roll(sides int) int
}

// seededRoller wraps math/rand behind a mutex so one battle's rolls are safe
// to request from multiple goroutines.
type seededRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededRoller returns a deterministic roller for simulations and tests.
func NewSeededRoller(seed int64) Roller {
	return &seededRoller{rng: rand.New(rand.NewSource(seed))}
}

// NewRoller returns a roller seeded from the OS entropy source.
func NewRoller() Roller {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		// Entropy read failures leave a fixed seed; rolls stay valid.
		return NewSeededRoller(1)
	}
	return NewSeededRoller(int64(binary.LittleEndian.Uint64(buf[:])))
}

func (r *seededRoller) Roll(sides int) int {
	if sides < 1 {
		return 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(sides) + 1
}

// Notation is a parsed dice expression: "3", "D6", "2D6", "D3+1".
type Notation struct {
	Count int
	Sides int
	Bonus int
}

// Fixed reports whether the notation rolls no dice.
func (n Notation) Fixed() bool { return n.Count == 0 }

// ParseNotation parses a dice expression. Plain integers are fixed values.
func ParseNotation(expr string) (Notation, error) {
	s := strings.ToUpper(strings.TrimSpace(expr))
	if s == "" {
		return Notation{}, fmt.Errorf("empty dice expression")
	}
	var bonus int
	if i := strings.IndexByte(s, '+'); i >= 0 {
		b, err := strconv.Atoi(strings.TrimSpace(s[i+1:]))
		if err != nil {
			return Notation{}, fmt.Errorf("dice expression %q: bad bonus", expr)
		}
		bonus = b
		s = strings.TrimSpace(s[:i])
	}
	if !strings.ContainsRune(s, 'D') {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return Notation{}, fmt.Errorf("dice expression %q is not valid", expr)
		}
		return Notation{Bonus: v + bonus}, nil
	}
	parts := strings.SplitN(s, "D", 2)
	count := 1
	if parts[0] != "" {
		c, err := strconv.Atoi(parts[0])
		if err != nil || c < 1 {
			return Notation{}, fmt.Errorf("dice expression %q: bad count", expr)
		}
		count = c
	}
	sides, err := strconv.Atoi(parts[1])
	if err != nil || sides < 2 {
		return Notation{}, fmt.Errorf("dice expression %q: bad sides", expr)
	}
	return Notation{Count: count, Sides: sides, Bonus: bonus}, nil
}

// Roll evaluates the notation, returning the total and the individual dice.
func (n Notation) Roll(r Roller) (int, []int) {
	if n.Fixed() {
		return n.Bonus, nil
	}
	total := n.Bonus
	rolls := make([]int, 0, n.Count)
	for i := 0; i < n.Count; i++ {
		v := r.Roll(n.Sides)
		rolls = append(rolls, v)
		total += v
	}
	return total, rolls
}
