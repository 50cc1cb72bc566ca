// Package vitals holds the VitalSense domain core: the persona set, the
// persona to profile table, the synthetic history generator and the
// heart-rate safe zone. Apart from LoadTableFile everything here is a pure
// function of its inputs; randomness is injected through Rand.
package vitals
