package service

import "github.com/lshigami/safetycert/internal/model"

// EffectiveCap is the number of attempts a user may start on a test: the base
// maximum plus one per approved extra-attempt request. Every eligibility check and
// every displayed cap goes through this function.
func EffectiveCap(base int, requests []model.ExtraAttemptRequest) int {
	n := base
	for _, r := range requests {
		if r.Status == model.ExtraAttemptApproved {
			n++
		}
	}
	return n
}
