package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/testutil"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_OutcomesAndTrace(t *testing.T) {
	result, err := Run(loadTestScenario(t, "amm_happy"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, testutil.AddressAt(2), result.Outcomes["Router"].Address)
	require.Len(t, result.Trace, 6)
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, ir.StatusSubmitting, result.Trace[0].Status)
	assert.Equal(t, ir.StatusDeployed, result.Trace[5].Status)
}

func TestRun_ConfirmationTimeoutKeepsTransaction(t *testing.T) {
	result, err := Run(loadTestScenario(t, "confirmation_timeout"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, []string{"deploy:Token", "confirm:Token"}, result.ChainLog)
	assert.Equal(t, testutil.AddressAt(0), result.Outcomes["Token"].Address)
	assert.Equal(t, 3, result.Outcomes["Token"].Attempts)
}

func TestRun_DroppedTransactionResent(t *testing.T) {
	result, err := Run(loadTestScenario(t, "dropped_transaction"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, testutil.AddressAt(1), result.Outcomes["Token"].Address)
	assert.Equal(t, testutil.AddressAt(2), result.Outcomes["Vault"].Address)
}

func TestRun_ExpectationMismatch(t *testing.T) {
	s := loadTestScenario(t, "rejected_dependency")
	s.Expect["Factory"] = ir.StatusDeployed
	s.Expect["Ghost"] = ir.StatusDeployed

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expect.Factory: got Failed, want Deployed")
	assert.Contains(t, result.Errors[1], "expect.Ghost: unit is not in the plan")
}

func TestRun_ExpectErrorMismatch(t *testing.T) {
	t.Run("wrong code", func(t *testing.T) {
		s := loadTestScenario(t, "cycle")
		s.ExpectError = ir.CodeDanglingReference

		result, err := Run(s)
		require.NoError(t, err)
		assert.False(t, result.Pass)
		assert.Equal(t, ir.CodeCyclicDependency, result.ErrorCode)
		assert.Contains(t, result.Errors[0], `refused with "E204", expected "E205"`)
	})

	t.Run("plan accepted", func(t *testing.T) {
		s := loadTestScenario(t, "amm_happy")
		s.Expect = nil
		s.ExpectError = ir.CodeCyclicDependency

		result, err := Run(s)
		require.NoError(t, err)
		assert.False(t, result.Pass)
		assert.Contains(t, result.Errors[0], "plan accepted")
		assert.Empty(t, result.Trace)
	})

	t.Run("unexpected refusal", func(t *testing.T) {
		s := loadTestScenario(t, "dangling")
		s.ExpectError = ""
		s.Expect = map[string]ir.Status{"Router": ir.StatusDeployed}

		result, err := Run(s)
		require.NoError(t, err)
		assert.False(t, result.Pass)
		assert.Contains(t, result.Errors[0], "plan refused")
	})
}

func TestRun_AssertionFailureReported(t *testing.T) {
	s := loadTestScenario(t, "transient_retry")
	s.Assertions = append(s.Assertions, Assertion{Type: AssertDeployCount, Unit: "Token", Count: 1})

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: deploy_count")
}

func TestRun_IsolatedManifests(t *testing.T) {
	s := loadTestScenario(t, "amm_happy")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.ChainLog, second.ChainLog)
}
