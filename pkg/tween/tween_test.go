// Copyright 2020-2021 The Playout Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package tween

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinearEndpoints(t *testing.T) {
	tw := MustNew("linear")
	require.Equal(t, 10.0, tw.Ease(0, 10, 90, 50))
	require.InDelta(t, 100.0, tw.Ease(50, 10, 90, 50), 1e-9)
}

func TestCaseInsensitive(t *testing.T) {
	a, err := New("EaseInOutQuad")
	require.NoError(t, err)
	b, err := New("easeinoutquad")
	require.NoError(t, err)
	require.True(t, a.Equal(b))
}

func TestUnknownName(t *testing.T) {
	_, err := New("not-a-tween")
	require.ErrorIs(t, err, ErrUnknownTween)
}

func TestEndpointsHoldForEveryFamily(t *testing.T) {
	for name := range registry {
		if name == "" || containsExpo(name) {
			// The exponential family's formulas carry a fixed ~0.1%
			// correction term by construction (ease_in_expo/ease_out_expo
			// in the reference implementation), so only their special-
			// cased exact endpoints are checked, in
			// TestExpoEndpointsAreExact below.
			continue
		}
		t.Run(name, func(t *testing.T) {
			tw := MustNew(name)
			require.InDelta(t, 10.0, tw.Ease(0, 10, 90, 50), 1e-6)
			require.InDelta(t, 100.0, tw.Ease(50, 10, 90, 50), 1e-6)
		})
	}
}

func TestExpoEndpointsAreExact(t *testing.T) {
	// Only t==0 (in-family) and t==d (out-family) are special-cased to
	// exact values in the reference implementation; easeinexpo at t==d
	// lands 0.1% of the change short because of the correction term
	// baked into its formula.
	require.Equal(t, 10.0, MustNew("easeinexpo").Ease(0, 10, 90, 50))
	require.Equal(t, 100.0, MustNew("easeoutexpo").Ease(50, 10, 90, 50))
	require.Equal(t, 10.0, MustNew("easeinoutexpo").Ease(0, 10, 90, 50))
	require.Equal(t, 100.0, MustNew("easeinoutexpo").Ease(50, 10, 90, 50))
}

func containsExpo(name string) bool {
	for i := 0; i+4 <= len(name); i++ {
		if name[i:i+4] == "expo" {
			return true
		}
	}
	return false
}

func TestParamSuffixParses(t *testing.T) {
	tw, err := New("easeoutback:2.5")
	require.NoError(t, err)
	require.Equal(t, []float64{2.5}, tw.params)
}

func TestBackOvershootDefault(t *testing.T) {
	withDefault := MustNew("easeoutback")
	withExplicit := MustNew("easeoutback:1.70158")
	require.InDelta(t, withDefault.Ease(25, 0, 1, 50), withExplicit.Ease(25, 0, 1, 50), 1e-9)
}
