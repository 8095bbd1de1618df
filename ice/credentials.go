package ice

import "github.com/pkg/errors"

// iceSafeAlphabet is the 64-character alphabet RFC 8445 Section 15.4
// recommends for ufrag/password generation: upper/lower letters,
// digits, plus and slash.
const iceSafeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const (
	ufragLength    = 22
	passwordLength = 22
)

// generateICEString produces an n-character string drawn from the
// ICE-safe alphabet, sourced from rng. Grounded in the credential
// generation SPEC_FULL.md §3 requires (22-char ufrags and
// passwords) and wired to github.com/pion/randutil via the RandomSource
// capability rather than stdlib math/rand, per SPEC_FULL.md §10.1.
func generateICEString(rng RandomSource, n int) (string, error) {
	raw, err := rng.Bytes(n)
	if err != nil {
		return "", errors.Wrap(err, "generate ice credential")
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = iceSafeAlphabet[int(b)%len(iceSafeAlphabet)]
	}
	return string(out), nil
}

// GenerateCredentials produces a fresh ufrag/password pair using the
// same alphabet and lengths an Agent assigns a new Stream, for
// operators who need to hand a peer a credential pair out of band
// (e.g. a signalling test fixture) without standing up a full Agent.
func GenerateCredentials(rng RandomSource) (ufrag, pwd string, err error) {
	ufrag, err = generateICEString(rng, ufragLength)
	if err != nil {
		return "", "", err
	}
	pwd, err = generateICEString(rng, passwordLength)
	if err != nil {
		return "", "", err
	}
	return ufrag, pwd, nil
}

// generateTieBreaker produces the 64-bit tie-breaker value an Agent
// uses to resolve ICE-CONTROLLING/ICE-CONTROLLED role conflicts per
// RFC 8445 Section 7.1.2.2.2. Wired to the same RandomSource.
func generateTieBreaker(rng RandomSource) (uint64, error) {
	raw, err := rng.Bytes(8)
	if err != nil {
		return 0, errors.Wrap(err, "generate tie-breaker")
	}
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return v, nil
}
