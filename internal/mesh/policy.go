package mesh

import (
	"fmt"
	"strings"
)

// InitiatePolicy decides which side of a new pair sends the first offer.
type InitiatePolicy int

const (
	// InitiateJoiner: the newcomer offers to everyone in its roster snapshot,
	// existing members wait for the offer.
	InitiateJoiner InitiatePolicy = iota
	// InitiateBoth: existing members also offer on user-connected. Glare is
	// resolved by the negotiation tie-break.
	InitiateBoth
)

func (p InitiatePolicy) String() string {
	switch p {
	case InitiateJoiner:
		return "joiner"
	case InitiateBoth:
		return "both"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

func ParseInitiatePolicy(s string) (InitiatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "joiner":
		return InitiateJoiner, nil
	case "both":
		return InitiateBoth, nil
	}
	return 0, fmt.Errorf("unknown initiate policy %q", s)
}
