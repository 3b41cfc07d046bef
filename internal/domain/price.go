package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// priceRe matches an amount with an optional currency prefix, e.g. "€950", "EUR 1200,50", "950".
var priceRe = regexp.MustCompile(`(?:€|EUR\s?|\$)?\s?(\d+(?:[.,]\d+)?)`)

var distanceRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)

// ParseAmount extracts the first amount in s. A comma decimal separator is read as a dot.
func ParseAmount(s string) (float64, bool) {
	m := priceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseDistanceKm extracts the distance in km from strings like "850 km".
func ParseDistanceKm(s string) (float64, bool) {
	m := distanceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// FormatPrice renders an amount as the final-price string.
func FormatPrice(v float64) string {
	return fmt.Sprintf("€%.2f", v)
}

// FinalPrice derives the price frozen on acceptance: newest counter-offer, else the
// newest non-system message quoting an amount, else the initial price.
func FinalPrice(n *Negotiation) string {
	if k := len(n.CounterOffers); k > 0 {
		return FormatPrice(n.CounterOffers[k-1].Price)
	}
	for i := len(n.Messages) - 1; i >= 0; i-- {
		m := n.Messages[i]
		if m.IsSystem() {
			continue
		}
		if v, ok := ParseAmount(m.Content); ok {
			return FormatPrice(v)
		}
	}
	if v, ok := ParseAmount(n.InitialRequest.Price); ok {
		return FormatPrice(v)
	}
	return n.InitialRequest.Price
}

// PricePerKm returns the current price divided by the route distance, or nil when
// either is unknown.
func PricePerKm(n *Negotiation) *float64 {
	if n.CurrentPrice == nil {
		return nil
	}
	km, ok := ParseDistanceKm(n.InitialRequest.Distance)
	if !ok {
		return nil
	}
	v := *n.CurrentPrice / km
	return &v
}

// RoundEstimate approximates negotiation rounds from a message count.
func RoundEstimate(totalMessages int) int {
	return totalMessages / 2
}
