package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestQueueElementIDEquality(t *testing.T) {
	a := NewQueueElementID("Textures/Rock.tif", "pc", "Compile")
	b := NewQueueElementID("textures/rock.TIF", "pc", "Compile")

	require.True(t, a.Equal(b))
	require.Equal(t, a.Key(), b.Key())
	require.Equal(t, a.Hash(), b.Hash())
	require.Equal(t, 0, a.Compare(b))

	m := map[ElementKey]int{a.Key(): 1}
	require.Equal(t, 1, m[b.Key()])

	tests := []struct {
		name  string
		other QueueElementID
	}{
		{"platform is case-sensitive", NewQueueElementID("textures/rock.tif", "PC", "Compile")},
		{"descriptor is case-sensitive", NewQueueElementID("textures/rock.tif", "pc", "compile")},
		{"different asset", NewQueueElementID("textures/rocks.tif", "pc", "Compile")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, a.Equal(tt.other))
			require.NotEqual(t, 0, a.Compare(tt.other))
			require.NotEqual(t, a.Hash(), tt.other.Hash())
		})
	}
}

func TestQueueElementIDOrdering(t *testing.T) {
	a := NewQueueElementID("A.tif", "pc", "x")
	b := NewQueueElementID("b.tif", "es3", "x")
	c := NewQueueElementID("b.tif", "pc", "a")
	d := NewQueueElementID("B.TIF", "pc", "b")

	require.True(t, a.Less(b))
	require.True(t, b.Less(c))
	require.True(t, c.Less(d))
	require.False(t, d.Less(c))
}

func TestJobTransitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		valid bool
	}{
		{"build succeeds", []State{StateProcessing, StateCompleted}, true},
		{"build fails", []State{StateProcessing, StateFailed}, true},
		{"cancel pending", []State{StateCancelled}, true},
		{"cancel in flight", []State{StateProcessing, StateCancelled}, true},
		{"pending cannot complete", []State{StateCompleted}, false},
		{"no way back", []State{StateProcessing, StatePending}, false},
		{"terminal stays terminal", []State{StateCancelled, StateProcessing}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New(1, Details{SourcePath: "a.tif", Platform: "pc"}, time.Now())
			require.Equal(t, StatePending, j.State())

			var err error
			for _, s := range tt.path {
				if err = j.SetState(s); err != nil {
					break
				}
			}
			if tt.valid {
				require.NoError(t, err)
				require.Equal(t, tt.path[len(tt.path)-1], j.State())
			} else {
				require.True(t, errors.Is(err, ErrInvalidTransition), err)
			}
		})
	}
}

func TestJobEscalateNeverLowers(t *testing.T) {
	j := New(1, Details{SourcePath: "a.tif"}, time.Now())
	require.True(t, j.Escalate(ProcessAssetRequestSyncEscalation))
	require.False(t, j.Escalate(ProcessAssetRequestStatusEscalation))
	require.False(t, j.Escalate(ProcessAssetRequestSyncEscalation))
	require.Equal(t, ProcessAssetRequestSyncEscalation, j.Escalation)
}

func TestJobInfo(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	j := New(7, Details{SourcePath: "Objects/Tree.fbx", Platform: "pc", JobKey: "Mesh"}, now)
	require.Equal(t, "Objects/Tree.fbx", j.RelativePath)

	info := j.Info()
	require.Nil(t, info.LaunchedAt)

	b, err := json.Marshal(info)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, "pending", raw["state"])
	require.Equal(t, "Objects/Tree.fbx", raw["source_path"])
	require.EqualValues(t, 7, raw["run_key"])

	require.NoError(t, j.SetState(StateProcessing))
	j.LaunchedAt = now.Add(time.Second)
	info = j.Info()
	require.NotNil(t, info.LaunchedAt)
	require.Equal(t, StateProcessing, info.State)
}

func TestEscalationFor(t *testing.T) {
	require.Less(t, EscalationFor(true), EscalationFor(false))
	require.Less(t, AssetJobRequestEscalation, EscalationFor(true))
}

func TestSourceMatches(t *testing.T) {
	tests := []struct {
		source string
		target string
		folder bool
		want   bool
	}{
		{"Textures/Rock.tif", "textures/rock.TIF", false, true},
		{"textures/rock.tif", "textures", false, false},
		{"Textures/Rock.tif", "textures", true, true},
		{"textures/stone/granite.tif", "Textures/", true, true},
		{"textures_old/rock.tif", "textures", true, false},
		{"textures", "textures", true, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, SourceMatches(tt.source, tt.target, tt.folder),
			"%s in %s (folder %v)", tt.source, tt.target, tt.folder)
	}
}
