package rtpmidi

import "github.com/pion/randutil"

// newSessionIdentifiers draws fresh 32-bit SSRC and InitiatorToken values
// for a new session. Uniqueness-in-practice is all that's required here
// (these only need to disambiguate one session's echoed values from
// another's), not cryptographic unpredictability.
func newSessionIdentifiers() (ssrc, initiatorToken uint32) {
	gen := randutil.NewMathRandomGenerator()
	return gen.Uint32(), gen.Uint32()
}
