package fingerprint

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestComputeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	fieldSets := gen.MapOf(gen.AlphaString(), gen.AnyString())

	// Property: hashing is deterministic and independent of map iteration order
	properties.Property("same fields give the same hash", prop.ForAll(
		func(fields map[string]string) bool {
			copied := make(map[string]string, len(fields))
			for k, v := range fields {
				copied[k] = v
			}
			return Compute(fields) == Compute(copied)
		},
		fieldSets,
	))

	properties.Property("hash is always 64 lowercase hex characters", prop.ForAll(
		func(fields map[string]string) bool {
			return Valid(Compute(fields))
		},
		fieldSets,
	))

	// Property: changing any one value changes the hash
	properties.Property("changing a value changes the hash", prop.ForAll(
		func(fields map[string]string, key, suffix string) bool {
			changed := make(map[string]string, len(fields)+1)
			for k, v := range fields {
				changed[k] = v
			}
			if _, ok := fields[key]; !ok {
				fields[key] = ""
				changed[key] = ""
			}
			changed[key] = fields[key] + "x" + suffix
			return Compute(fields) != Compute(changed)
		},
		fieldSets,
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
