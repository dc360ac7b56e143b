// Package lut generates the atmosphere lookup tables once per frame.
//
// A frame runs a fixed sequence of kernels:
//
//	transmittance -> [multi-scatter] -> sky-view -> [aerial-volume]
//
// Bracketed stages run only when their feature flag is set in the frame's
// parameter block. The sequence is computed once at frame start as a Plan.
// Every output is acquired from the pool, published under its texture name,
// and owned by the returned Frame until Frame.Close releases it. Composite
// passes that read the published textures run between Run and Close, as
// part of the same frame.
package lut
