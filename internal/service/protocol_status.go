package service

import (
	"fmt"

	"github.com/lshigami/safetycert/internal/model"
)

// AggregateStatus derives the protocol status from the complete signature set.
// Rejected and annulled protocols keep their status.
func AggregateStatus(current string, sigs []model.Signature) string {
	switch current {
	case model.ProtocolRejected, model.ProtocolAnnulled:
		return current
	}
	membersSigned := true
	chairmanSigned := false
	for _, s := range sigs {
		if s.Role == model.SignerRoleChairman {
			chairmanSigned = s.OTPVerified
			continue
		}
		if !s.OTPVerified {
			membersSigned = false
		}
	}
	switch {
	case membersSigned && chairmanSigned:
		return model.ProtocolSignedChairman
	case membersSigned:
		return model.ProtocolSignedMembers
	default:
		return model.ProtocolPendingPDEK
	}
}

// ValidateSignatureOrder reports stored signature sets that violate the members-then-chairman order.
func ValidateSignatureOrder(sigs []model.Signature) []string {
	var (
		warnings  []string
		chairmen  []model.Signature
		hasMember bool
	)
	for _, s := range sigs {
		if s.Role == model.SignerRoleChairman {
			chairmen = append(chairmen, s)
		} else {
			hasMember = true
		}
	}
	if len(chairmen) != 1 {
		warnings = append(warnings, fmt.Sprintf("expected exactly one chairman signature, found %d", len(chairmen)))
	}
	if !hasMember {
		warnings = append(warnings, "no member signatures")
	}
	for _, c := range chairmen {
		if !c.OTPVerified {
			continue
		}
		for _, m := range sigs {
			if m.Role == model.SignerRoleChairman {
				continue
			}
			switch {
			case !m.OTPVerified:
				warnings = append(warnings, fmt.Sprintf("chairman %s signed while member %s has not signed", c.SignerName, m.SignerName))
			case c.SignedAt != nil && m.SignedAt != nil && c.SignedAt.Before(*m.SignedAt):
				warnings = append(warnings, fmt.Sprintf("chairman %s signed before member %s", c.SignerName, m.SignerName))
			}
		}
	}
	return warnings
}
