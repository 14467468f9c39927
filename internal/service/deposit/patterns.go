package deposit

import (
	"regexp"

	"github.com/paydesk/paydesk/internal/apperrors"
	"github.com/paydesk/paydesk/internal/models"
)

// Each deposit channel carries one reference pattern. The pattern is run
// against the proof text the user forwards; failing to extract a reference
// is a validation failure, not a state transition.
var channelRefPatterns = map[string]*regexp.Regexp{
	// Bank transfer references, e.g. FT1234567890
	models.ChannelBank: regexp.MustCompile(`\bFT[0-9A-Z]{8,12}\b`),

	// Mobile wallet receipt numbers, e.g. CEH4K2R9T1
	models.ChannelWallet: regexp.MustCompile(`\b[A-Z]{2,3}[0-9A-Z]{7,9}\b`),
}

// DepositChannels lists the channels users can claim deposits on.
func DepositChannels() []string {
	return []string{models.ChannelBank, models.ChannelWallet}
}

// ExtractRef pulls the transaction reference out of the forwarded proof
// text using the channel's pattern.
func ExtractRef(channel string, text string) (string, error) {
	re, ok := channelRefPatterns[channel]
	if !ok {
		return "", apperrors.ErrProofUnreadable
	}

	ref := re.FindString(text)
	if ref == "" {
		return "", apperrors.ErrProofUnreadable
	}
	return ref, nil
}
