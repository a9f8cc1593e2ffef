// Package pattern implements inside-bar detection, breakout checking,
// and the signal lifecycle shared by the live runner and the
// backtester.
package pattern

import (
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

// ScanAll returns every index i >= 2 such that candles[i-1] is an
// inside bar of parent candles[i-2]. Indices point at the first
// post-inside-bar position so breakout scanning can start at i.
// Used by the backtester.
func ScanAll(cs []models.Candle) []int {
	var hits []int
	for i := 2; i <= len(cs); i++ {
		if models.IsInsideBar(cs[i-2], cs[i-1]) {
			hits = append(hits, i)
		}
	}
	return hits
}

// LatestActive scans from the most recent candle backward and returns
// the newest inside-bar occurrence, or false if the sequence holds
// none. Used by the live runner, which only ever arms the latest
// pattern.
func LatestActive(cs []models.Candle) (models.InsideBar, bool) {
	for i := len(cs) - 1; i >= 1; i-- {
		if models.IsInsideBar(cs[i-1], cs[i]) {
			return models.InsideBar{Parent: cs[i-1], Child: cs[i]}, true
		}
	}
	return models.InsideBar{}, false
}
