package fieldcipher

import "fmt"

// Kind classifies the outcome of opening a stored value.
type Kind int

const (
	// KindDecrypted means the value was ciphertext and authenticated correctly.
	KindDecrypted Kind = iota
	// KindPassthroughLegacy means the value is not shaped like ciphertext at all,
	// which is what rows written before field encryption look like.
	KindPassthroughLegacy
	// KindCorrupt means the value is shaped like ciphertext but failed to
	// authenticate: wrong key, truncation or tampering.
	KindCorrupt
)

func (k Kind) String() string {
	switch k {
	case KindDecrypted:
		return "decrypted"
	case KindPassthroughLegacy:
		return "passthrough_legacy"
	case KindCorrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the tagged outcome of Open. Text holds the plaintext for
// KindDecrypted and the raw input otherwise.
type Result struct {
	Kind Kind
	Text string
	Err  error
}

func decrypted(text string) Result { return Result{Kind: KindDecrypted, Text: text} }

func passthrough(raw string) Result { return Result{Kind: KindPassthroughLegacy, Text: raw} }

func corrupt(raw string, err error) Result { return Result{Kind: KindCorrupt, Text: raw, Err: err} }

// OK reports whether the value decrypted cleanly.
func (r Result) OK() bool { return r.Kind == KindDecrypted }
