// Package radiation turns a static material grid into radiating surface
// patches and the visibility graph between them.
//
// Pipeline:
//
//	FullPlane         flood fill of one surface from a seed voxel and normal
//	DivideIntoPlanes  square tiling of the surface into planes
//	FindRelationships facing + line-of-sight tests, analytic view factors
//
// Coordinates in the view-factor formulas are in voxel units, with each
// plane's radiating face placed on the outer side of its voxel layer.
//
// The package also holds the Stefan–Boltzmann exchange used per generation
// by the plane workers.
package radiation
