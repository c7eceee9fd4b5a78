package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myypo/nimi/internal/model"
)

func TestDecide(t *testing.T) {
	for name, tc := range map[string]struct {
		policy   model.Restart
		restarts int
		want     decision
	}{
		"never first exit":        {model.Restart{Mode: model.RestartNever, Count: 5}, 0, decideStop},
		"always first exit":       {model.Restart{Mode: model.RestartAlways, Count: 1}, 0, decideRestart},
		"always never exhausts":   {model.Restart{Mode: model.RestartAlways, Count: 1}, 10000, decideRestart},
		"up-to-count under limit": {model.Restart{Mode: model.RestartUpToCount, Count: 2}, 1, decideRestart},
		"up-to-count at limit":    {model.Restart{Mode: model.RestartUpToCount, Count: 2}, 2, decideFail},
		"up-to-count fresh":       {model.Restart{Mode: model.RestartUpToCount, Count: 2}, 0, decideRestart},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, decide(tc.policy, tc.restarts))
		})
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateIdle, StateStarting, StateRunning, StateExited, StateRestarting} {
		require.False(t, s.Terminal(), s.String())
	}
	require.True(t, StateTerminated.Terminal())
	require.True(t, StateFailed.Terminal())
}
