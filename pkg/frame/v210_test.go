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

package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackV210RoundTripsExactSampleCountMultipleOfThree(t *testing.T) {
	samples := []uint16{0, 1023, 512, 4, 900, 17}
	packed, err := PackV210(samples)
	require.NoError(t, err)
	require.Len(t, packed, 8) // 2 groups of 3 samples -> 2 32-bit words

	out, err := UnpackV210(packed, len(samples))
	require.NoError(t, err)
	require.Equal(t, samples, out)
}

func TestPackV210RoundTripsNonMultipleOfThree(t *testing.T) {
	samples := []uint16{3, 1023}
	packed, err := PackV210(samples)
	require.NoError(t, err)

	out, err := UnpackV210(packed, len(samples))
	require.NoError(t, err)
	require.Equal(t, samples, out)
}

func TestPackV210MasksSamplesToTenBits(t *testing.T) {
	samples := []uint16{0xFFFF, 0, 0}
	packed, err := PackV210(samples)
	require.NoError(t, err)

	out, err := UnpackV210(packed, 3)
	require.NoError(t, err)
	require.Equal(t, uint16(0x3FF), out[0])
}
