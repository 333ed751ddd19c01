package core

import (
	"github.com/quill/printhold/internal/db"
)

// Resolution is the outcome of running the identity chain for one raw
// submitter string.
type Resolution struct {
	Owner      string
	ClaimState string
}

func (r Resolution) Owned() bool {
	return r.ClaimState == db.ClaimOwned
}

// Strategy inspects a raw submitter and either produces a definitive
// resolution or passes to the next strategy in the chain.
type Strategy func(rawSubmitter string) (Resolution, bool)

// Resolver runs an ordered list of strategies, first match wins. Jobs
// created through the submission pipeline carry a pre-stamped owner and
// never reach the resolver; the reconciler only resolves jobs it has not
// seen before and jobs still unclaimed. OWNED jobs are never re-resolved,
// so a later mapping change cannot silently reassign them.
type Resolver struct {
	strategies []Strategy
}

// NewResolver builds the chain against a point-in-time snapshot of device
// mappings. A resolver is valid for a single reconciliation pass.
func NewResolver(deviceMappings map[string]string) *Resolver {
	return &Resolver{
		strategies: []Strategy{
			deviceMappingStrategy(deviceMappings),
		},
	}
}

func (r *Resolver) Resolve(rawSubmitter string) Resolution {
	for _, s := range r.strategies {
		if res, ok := s(rawSubmitter); ok {
			return res
		}
	}
	return Resolution{ClaimState: db.ClaimUnclaimed}
}

// deviceMappingStrategy matches the raw submitter exactly against the
// device mapping table snapshot.
func deviceMappingStrategy(mappings map[string]string) Strategy {
	return func(rawSubmitter string) (Resolution, bool) {
		account, ok := mappings[rawSubmitter]
		if !ok || account == "" {
			return Resolution{}, false
		}
		return Resolution{Owner: account, ClaimState: db.ClaimOwned}, true
	}
}
