// Copyright 2024 The probemap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probemap

import "golang.org/x/exp/constraints"

// Ready-made hash and equality functions for common key types. They are
// conveniences only: any functions satisfying the contract in the package
// documentation can be used instead.

// HashInt hashes an integer key by mixing its bits through a 64-bit
// avalanche finalizer and folding the result to 32 bits. Sequential keys
// spread uniformly across the table rather than clustering into runs.
func HashInt[T constraints.Integer](key T) uint32 {
	x := uint64(key)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return uint32(x)
}

// HashString hashes a string key using FNV-1a.
func HashString(key string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h
}

// Equal is an EqualFn for comparable key types, using ==.
func Equal[K comparable](a, b K) bool {
	return a == b
}
