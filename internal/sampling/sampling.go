// Package sampling implements the pure functions used to assign an install
// to a study variation: weighted choice over a cumulative distribution and a
// deterministic hash-to-fraction mapping.
//
// Nothing in this package holds state. The same inputs always produce the same
// variation, which is what keeps an install in its branch across restarts
// without storing the assignment anywhere remote.
package sampling

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"github.com/spaolacci/murmur3"
)

const (
	// DefaultHashDigits is the number of leading hex digits of the SHA-256
	// digest used by HashFraction (48 bits).
	DefaultHashDigits = 12

	// maxHashDigits keeps the integer exactly representable as a float64 mantissa.
	maxHashDigits = 13
)

// Variation is one named arm of a study.
type Variation struct {
	// Name identifies the branch. It is reported as "branch" in every ping.
	Name string `json:"name" yaml:"name"`

	// Weight is the relative share of installs. A zero weight counts as 1.
	Weight float64 `json:"weight" yaml:"weight"`
}

// Cumsum returns the running total of arr. The result has the same length as the input.
func Cumsum(arr []float64) []float64 {
	out := make([]float64, len(arr))
	var total float64
	for i, v := range arr {
		total += v
		out[i] = total
	}
	return out
}

// ChooseWeighted returns the first variation whose right-hand cumulative limit
// (cumsum[i]/total) is greater than or equal to fraction.
//
// A fraction sitting exactly on the boundary of bucket i selects bucket i.
// Returns nil when no variation satisfies the inequality (empty input or a
// fraction above 1); callers must treat nil as an internal error.
func ChooseWeighted(variations []Variation, fraction float64) *Variation {
	if len(variations) == 0 {
		return nil
	}

	weights := make([]float64, len(variations))
	for i, v := range variations {
		weights[i] = effectiveWeight(v.Weight)
	}

	partial := Cumsum(weights)
	total := partial[len(partial)-1]

	for i := range variations {
		if fraction <= partial[i]/total {
			return &variations[i]
		}
	}
	return nil
}

// effectiveWeight maps "falsy" weights (zero, NaN) to 1.
func effectiveWeight(w float64) float64 {
	if w == 0 || math.IsNaN(w) {
		return 1
	}
	return w
}

// HashFraction maps a salted string to a stable fraction in [0, 1).
//
// It takes the first hexDigits hex digits of SHA-256(UTF-8(salted)) as an
// integer and divides it by 16^hexDigits. Values outside [1, 13] fall back to
// DefaultHashDigits.
//
// Salt with studyName + clientID so that different studies bucket the same
// client independently.
func HashFraction(salted string, hexDigits int) float64 {
	if hexDigits < 1 || hexDigits > maxHashDigits {
		hexDigits = DefaultHashDigits
	}

	sum := sha256.Sum256([]byte(salted))
	digest := hex.EncodeToString(sum[:])

	// A lowercase hex prefix of at most 13 digits always parses.
	n, err := strconv.ParseUint(digest[:hexDigits], 16, 64)
	if err != nil {
		panic(fmt.Sprintf("sampling: unparseable digest prefix %q: %v", digest[:hexDigits], err))
	}

	return float64(n) / math.Pow(16, float64(hexDigits))
}

// InRollout reports whether subject falls inside a percentage rollout for the given salt.
//
// The composite key "subject:salt" is hashed with Murmur3 (32-bit) and reduced
// modulo 100, so the same subject always lands in the same bucket for a given
// salt. An empty subject never matches.
func InRollout(subject, salt string, percent int) bool {
	if subject == "" {
		return false
	}
	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}

	hasher := murmur3.New32()
	_, _ = hasher.Write([]byte(subject + ":" + salt))
	bucket := int(hasher.Sum32() % 100)

	return bucket < percent
}
