// Package scene loads model descriptions from YAML.
//
// A scene fills a bounded grid with boxes of named materials and lists the
// surfaces from which radiation planes are extracted:
//
//	name: slab
//	bounds: {x: 4, y: 4, z: 2}
//	fill: air
//	materials:
//	  - {name: air, phase: fluid, density: 1.2, specific_heat_capacity: 1005, thermal_conductivity: 0.026}
//	  - {name: concrete, phase: solid, density: 2400, specific_heat_capacity: 880, thermal_conductivity: 1.4, emissivity: 0.9}
//	boxes:
//	  - {material: concrete, from: [0, 0, 0], to: [3, 3, 0], temperature: 400}
//	seeds:
//	  - {point: [0, 0, 0], normal: [0, 0, 1]}
//	thermometers:
//	  - [1, 1, 0]
//
// Material names are compared after Unicode NFC normalization.
package scene
