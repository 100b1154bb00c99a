package check

import (
	"testing"

	"gotest.tools/assert"
)

type testcase1 struct {
	A bool
}

func (t *testcase1) Validate() []error {
	return []error{
		True(t.A, "field A must be true"),
	}
}

type testcase2 struct {
	A bool
}

func (t testcase2) Validate() []error {
	return []error{
		True(t.A, "field A must be true"),
	}
}

type nested struct {
	Inner  testcase2
	Others []testcase2
	Opt    *testcase1
}

func TestMethodSets(t *testing.T) {
	case1 := testcase1{A: false}
	case2 := testcase2{A: false}

	err := Validate(case1)
	assert.ErrorContains(t, err, "error found at root: field A must be true: expected true, got false")
	err = Validate(&case1)
	assert.ErrorContains(t, err, "error found at root: field A must be true: expected true, got false")
	err = Validate(case2)
	assert.ErrorContains(t, err, "error found at root: field A must be true: expected true, got false")
	err = Validate(&case2)
	assert.ErrorContains(t, err, "error found at root: field A must be true: expected true, got false")
}

func TestNestedPaths(t *testing.T) {
	err := Validate(nested{
		Inner:  testcase2{A: true},
		Others: []testcase2{{A: true}, {A: false}},
	})
	assert.ErrorContains(t, err, "Check Failed! 1 errors found")
	assert.ErrorContains(t, err, "error found at root.Others[1]")

	assert.NilError(t, Validate(nested{Inner: testcase2{A: true}, Opt: &testcase1{A: true}}))
}

func TestChecks(t *testing.T) {
	assert.NilError(t, Contains("best", []interface{}{"best", "worst"}))
	assert.ErrorContains(t, Contains("meh", []interface{}{"best", "worst"}, "invalid policy"),
		"invalid policy: meh not in")
	assert.NilError(t, GreaterThan(2, 1))
	assert.ErrorContains(t, GreaterThan(1, 1, "max_jobs"), "max_jobs: 1 is not greater than 1")
	assert.NilError(t, GreaterThanOrEqualTo(0, 0))
	assert.ErrorContains(t, NotEmpty("", "host_platform"), "host_platform: expected a non-empty value")
}
