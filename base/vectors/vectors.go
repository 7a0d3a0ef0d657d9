// Copyright 2025 muse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vectors implements similarity measures over sparse vectors
// represented as maps from dimension key to weight. Dimensions absent from a
// map carry an implicit weight of zero, so only keys present in both operands
// contribute to a product.
package vectors

import "math"

// Dot returns the scalar product of two sparse vectors. Only keys present in
// both vectors contribute to the sum.
func Dot[K comparable](u, v map[K]float64) float64 {
	// iterate the smaller map
	if len(v) < len(u) {
		u, v = v, u
	}
	var scalar float64
	for key, weight := range u {
		if other, exist := v[key]; exist {
			scalar += weight * other
		}
	}
	return scalar
}

// Length returns the Euclidean norm of a value collection.
func Length(values []float64) float64 {
	var sum float64
	for _, value := range values {
		sum += value * value
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of two sparse vectors. A zero scalar
// product or a zero-length operand yields 0 rather than an error.
func Cosine[K comparable](u, v map[K]float64) float64 {
	scalar := Dot(u, v)
	if scalar == 0 {
		return 0
	}
	lengthU := Length(values(u))
	lengthV := Length(values(v))
	if lengthU == 0 || lengthV == 0 {
		return 0
	}
	return scalar / (lengthU * lengthV)
}

// Pearson returns the Pearson correlation of two sparse vectors: each vector
// is mean-centered independently over its own explicit keys, then the cosine
// of the centered vectors is taken. Centering deliberately ignores the key
// union of both operands; changing this silently reorders similarity rankings
// downstream.
func Pearson[K comparable](u, v map[K]float64) float64 {
	return Cosine(centered(u), centered(v))
}

func centered[K comparable](u map[K]float64) map[K]float64 {
	if len(u) == 0 {
		return u
	}
	var sum float64
	for _, weight := range u {
		sum += weight
	}
	mean := sum / float64(len(u))
	result := make(map[K]float64, len(u))
	for key, weight := range u {
		result[key] = weight - mean
	}
	return result
}

func values[K comparable](u map[K]float64) []float64 {
	result := make([]float64, 0, len(u))
	for _, weight := range u {
		result = append(result, weight)
	}
	return result
}
