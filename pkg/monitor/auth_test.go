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

package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenAuthValidatesCorrectToken(t *testing.T) {
	a, err := NewTokenAuth("secret-token")
	require.NoError(t, err)

	require.True(t, a.Valid("secret-token"))
	require.False(t, a.Valid("wrong-token"))
}
