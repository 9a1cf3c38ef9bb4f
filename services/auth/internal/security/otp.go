package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const OTPLength = 6

type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodeGenerator draws uniformly distributed numeric codes.
type RandomCodeGenerator struct{}

func (RandomCodeGenerator) Generate() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPLength, n.Int64()), nil
}

// StaticCodeGenerator always returns Code. Only for dev and test deployments.
type StaticCodeGenerator struct {
	Code string
}

func (g StaticCodeGenerator) Generate() (string, error) {
	return g.Code, nil
}
