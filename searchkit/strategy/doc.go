// Package strategy decides, per request, which backends a search touches.
//
// Select is a pure function of its Input: the same health, availability,
// options and preference always produce the same Strategy.
package strategy
