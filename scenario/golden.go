package scenario

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/govm-net/multitest/core"
)

// RunWithGolden runs the scenario and compares its trace with
// testdata/golden/{scenario.Name}.golden. It returns the failed expectations.
//
// To regenerate golden files, run:
//
//	go test ./scenario -update
func RunWithGolden(t *testing.T, s *Scenario, contract core.Contract) error {
	t.Helper()

	result, err := Run(s, contract)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, []byte(result.String()))

	return result.Err()
}
