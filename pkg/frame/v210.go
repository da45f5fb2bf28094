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
	"bytes"
	"fmt"

	"github.com/icza/bitio"
)

// PackV210 repacks 10-bit-per-component samples into the v210 wire layout
// a broadcast SDI/IP consumer expects (§4.3 step 6's "re-packed to the
// format's native pixel layout"): every 3 samples share one 32-bit
// little-endian word, 10 bits each plus 2 trailing padding bits. samples
// must already be channel-interleaved by the caller (e.g. Cb,Y,Cr,Y,...
// for 4:2:2); PackV210 only does the bit-level word packing.
func PackV210(samples []uint16) ([]byte, error) {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)

	for i := 0; i < len(samples); i += 3 {
		for j := i; j < i+3; j++ {
			var v uint16
			if j < len(samples) {
				v = samples[j] & 0x3FF
			}
			if err := w.WriteBits(uint64(v), 10); err != nil {
				return nil, fmt.Errorf("could not write v210 sample: %w", err)
			}
		}
		if err := w.WriteBits(0, 2); err != nil {
			return nil, fmt.Errorf("could not write v210 padding: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("could not flush v210 writer: %w", err)
	}
	return buf.Bytes(), nil
}

// UnpackV210 is the inverse of PackV210: it reads n 10-bit samples back
// out of v210-packed data.
func UnpackV210(data []byte, n int) ([]uint16, error) {
	r := bitio.NewReader(bytes.NewReader(data))
	samples := make([]uint16, n)

	for i := 0; i < n; i += 3 {
		for j := i; j < i+3; j++ {
			v, err := r.ReadBits(10)
			if err != nil {
				return nil, fmt.Errorf("could not read v210 sample: %w", err)
			}
			if j < n {
				samples[j] = uint16(v)
			}
		}
		if _, err := r.ReadBits(2); err != nil {
			return nil, fmt.Errorf("could not read v210 padding: %w", err)
		}
	}
	return samples, nil
}
