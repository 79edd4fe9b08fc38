// Package pricing holds the pure money and shipping calculations used by the
// checkout views and the backend shipping quote.
package pricing

import (
	"fmt"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DateLayout is the ISO-8601 calendar date used for delivery dates.
// Dates in this layout sort correctly as plain strings.
const DateLayout = "2006-01-02"

// Line is a quantity of a priced item. Price is in cents.
type Line struct {
	Price    int64
	Quantity int
}

func LineTotal(price int64, quantity int) int64 {
	return price * int64(quantity)
}

// ItemsTotal sums quantity*price over lines.
func ItemsTotal(lines []Line) int64 {
	var total int64
	for _, l := range lines {
		total += LineTotal(l.Price, l.Quantity)
	}
	return total
}

// Total is the grand total of an order.
func Total(itemsTotal, shipping int64) int64 {
	return itemsTotal + shipping
}

// Format renders cents as a locale-aware EUR amount, e.g. "€ 12.50".
// Unknown locales fall back to English.
func Format(cents int64, locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	amount := currency.EUR.Amount(float64(cents) / 100)
	return message.NewPrinter(tag).Sprint(currency.Symbol(amount))
}

// DeliveryDate returns the calendar date days after now.
func DeliveryDate(now time.Time, days int) string {
	return now.AddDate(0, 0, days).Format(DateLayout)
}

// DeliveryDelayDays returns how many calendar days separate now from the
// delivery date. The date is either DateLayout or an RFC 3339 timestamp,
// whose own calendar day counts. Dates in the past give a negative delay.
func DeliveryDelayDays(now time.Time, deliveryDate string) (int, error) {
	d, err := parseDeliveryDate(deliveryDate)
	if err != nil {
		return 0, err
	}
	return int(civilDay(d).Sub(civilDay(now)) / (24 * time.Hour)), nil
}

func parseDeliveryDate(s string) (time.Time, error) {
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d, nil
	}
	d, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse delivery date %q: %w", s, err)
	}
	return d, nil
}

// civilDay is t's calendar date at UTC midnight, so day spans never include
// a DST shift.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// HeartbeatInterval is 80% of the server's liveness timeout, so a ping always
// lands before an unconfirmed transaction expires.
func HeartbeatInterval(livenessTimeout time.Duration) time.Duration {
	return livenessTimeout * 4 / 5
}
