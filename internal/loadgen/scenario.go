package loadgen

import (
	"strconv"
	"strings"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
)

// Scenario decides how workers map onto bucket keys.
type Scenario int

const (
	// Contended points every worker at one shared key.
	Contended Scenario = iota

	// NonContended gives each worker its own key.
	NonContended
)

func (s Scenario) String() string {
	switch s {
	case Contended:
		return "contended"
	case NonContended:
		return "non-contended"
	default:
		return "Scenario(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseScenario returns the scenario named s.
func ParseScenario(s string) (Scenario, error) {
	switch strings.ToLower(s) {
	case "contended":
		return Contended, nil
	case "non-contended", "noncontended", "uncontended":
		return NonContended, nil
	default:
		return 0, dberrors.NewValidationError("loadgen", "scenario", s, "must be contended or non-contended")
	}
}

// KeyFor returns the bucket key worker uses under prefix.
func (s Scenario) KeyFor(prefix string, worker int) string {
	if s == Contended {
		return prefix
	}
	return prefix + strconv.Itoa(worker)
}

// Keys returns the distinct keys a run with workers workers touches, in
// worker order.
func (s Scenario) Keys(prefix string, workers int) []string {
	if s == Contended {
		return []string{prefix}
	}
	keys := make([]string, workers)
	for i := range keys {
		keys[i] = s.KeyFor(prefix, i)
	}
	return keys
}
