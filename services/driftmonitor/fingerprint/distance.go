// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fingerprint

// Distance computes the structural distance between two digests.
//
// Digests of different lengths score 1.0 (maximal difference). Equal
// lengths score the normalized Hamming distance: differing character
// positions divided by digest length. The result is symmetric, bounded
// in [0,1], and costs O(n).
//
// This is a coarse proxy for "how different", not a semantic measure:
// the avalanche property of the digest pushes any real signal change
// toward high scores, so only exact repeats sit near zero.
func Distance(a, b string) float64 {
	if len(a) != len(b) {
		return 1.0
	}
	if len(a) == 0 {
		return 0.0
	}

	differing := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			differing++
		}
	}
	return float64(differing) / float64(len(a))
}
