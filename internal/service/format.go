package service

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var germanPrinter = message.NewPrinter(language.German)

// FormatArea renders square meters with German digit grouping, e.g. "2.150,5 m²".
func FormatArea(area float64) string {
	return germanPrinter.Sprint(number.Decimal(area, number.MaxFractionDigits(3))) + " m²"
}

// FormatFloors renders a floor count, e.g. "1 floor" or "4 floors".
func FormatFloors(floors int) string {
	if floors == 1 {
		return "1 floor"
	}
	return fmt.Sprintf("%d floors", floors)
}
