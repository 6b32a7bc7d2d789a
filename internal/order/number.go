package order

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// NumberGenerator produces human readable order numbers.
type NumberGenerator struct {
	Now  func() time.Time
	Rand func(n int) int
}

// Next returns a number of the form BK-YYYYMM-NNNN. The suffix is random and
// therefore not unique on its own; callers retry on collision.
func (g NumberGenerator) Next() string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	rnd := cryptoIntn
	if g.Rand != nil {
		rnd = g.Rand
	}
	t := now()
	return fmt.Sprintf("BK-%04d%02d-%04d", t.Year(), int(t.Month()), rnd(10000))
}

func cryptoIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return int(time.Now().UnixNano() % int64(n))
	}
	return int(v.Int64())
}
