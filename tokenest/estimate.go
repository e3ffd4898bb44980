// Package tokenest estimates token counts from raw message content using a
// fixed characters-per-token divisor, the same coarse approximation the
// teacher's runtime.Memory uses for its character budget (totalChars in
// forge-core/runtime/memory.go), generalised to return an actual token
// count rather than a character count.
package tokenest

import (
	"math"

	"github.com/forgevm/vmpage/types"
)

// DefaultCharsPerToken is used when a caller does not configure one.
const DefaultCharsPerToken = 2.8

// perMessageOverhead accounts for role/separator framing the character count
// alone does not capture.
const perMessageOverhead = 32

// Estimator converts message content into an estimated token count.
//
// Deliberately uncapped: truncating the per-message character count before
// dividing by charsPerToken caused severe under-estimation of large tool
// outputs in the reference implementation (a 300 KB tool result returned as
// ~8K tokens but cost ~107K actual tokens). Count the full content length.
type Estimator struct {
	charsPerToken float64
}

// New creates an Estimator. charsPerToken <= 0 uses DefaultCharsPerToken.
func New(charsPerToken float64) Estimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return Estimator{charsPerToken: charsPerToken}
}

// Message estimates the token count of a single message.
func (e Estimator) Message(m types.Message) int {
	chars := len(m.Content) + perMessageOverhead
	for _, tc := range m.ToolCalls {
		chars += len(tc.Function.Name) + len(tc.Function.Arguments) + perMessageOverhead
	}
	return int(math.Ceil(float64(chars) / e.charsPerToken))
}

// Messages sums the estimated token count across msgs.
func (e Estimator) Messages(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Message(m)
	}
	return total
}

// Text estimates the token count of a bare string (used for page summaries
// and index queries, which aren't full Message records).
func (e Estimator) Text(s string) int {
	return int(math.Ceil(float64(len(s)+perMessageOverhead) / e.charsPerToken))
}
