// Package imei builds device identifiers accepted by BinaryInform. Newer
// firmware requests need a plausible IMEI; one can be generated from the
// 8-digit TAC of the model.
package imei

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"
)

const (
	TACLength  = 8
	IMEILength = 15

	maxAttempts = 5
)

var (
	ErrInvalidLength = errors.New("invalid IMEI length: please provide 8 or 15 digits")
	ErrNotDigits     = errors.New("IMEI must contain only digits")
	ErrNoValidIMEI   = fmt.Errorf("unable to find a valid IMEI after %d tries", maxAttempts)
)

// LuhnChecksum returns the check digit completing digits.
func LuhnChecksum(digits string) int {
	digits += "0"
	parity := len(digits) % 2
	s := 0
	for idx, char := range digits {
		d := int(char - '0')
		if idx%2 == parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		s += d
	}
	return (10 - (s % 10)) % 10
}

// Valid reports whether imei is 15 digits with a correct check digit.
func Valid(imei string) bool {
	if len(imei) != IMEILength || !allDigits(imei) {
		return false
	}
	return LuhnChecksum(imei[:IMEILength-1]) == int(imei[IMEILength-1]-'0')
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// Generator makes random IMEIs for a TAC.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a Generator seeded with seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

var (
	firstDigitChoices = []int{0, 5, 7}
	thirdDigitChoices = []int{0, 1, 3, 5, 6, 7}
)

// Generate returns a Luhn-valid IMEI starting with tac.
func (g *Generator) Generate(tac string) (string, error) {
	if len(tac) != TACLength {
		return "", ErrInvalidLength
	}
	if !allDigits(tac) {
		return "", ErrNotDigits
	}
	first := firstDigitChoices[g.rng.Intn(len(firstDigitChoices))]
	second := g.rng.Intn(6) + 4 // 4-9
	third := thirdDigitChoices[g.rng.Intn(len(thirdDigitChoices))]
	fourth := g.rng.Intn(10)
	fifthSixth := g.rng.Intn(100)

	body := fmt.Sprintf("%s%d%d%d%d%02d", tac, first, second, third, fourth, fifthSixth)
	return fmt.Sprintf("%s%d", body, LuhnChecksum(body)), nil
}

// ValidateFunc asks the server whether imei is accepted.
type ValidateFunc func(ctx context.Context, imei string) (bool, error)

// Resolve turns user input into an IMEI. Full IMEIs are returned as is;
// a TAC is expanded into random candidates until validate accepts one.
func (g *Generator) Resolve(ctx context.Context, input string, validate ValidateFunc) (string, error) {
	if !allDigits(input) {
		return "", ErrNotDigits
	}
	switch len(input) {
	case IMEILength:
		return input, nil
	case TACLength:
	default:
		return "", ErrInvalidLength
	}

	log := zerolog.Ctx(ctx)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		candidate, err := g.Generate(input)
		if err != nil {
			return "", err
		}
		ok, err := validate(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("error during IMEI validation")
			continue
		}
		if ok {
			log.Info().Int("attempt", attempt).Str("imei", candidate).Msg("valid IMEI found")
			return candidate, nil
		}
		log.Debug().Int("attempt", attempt).Str("imei", candidate).Msg("IMEI rejected")
	}
	return "", ErrNoValidIMEI
}
