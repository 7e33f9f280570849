package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DisplayLocation — часовой пояс для дат в письмах и истории.
// Без базы tzdata откатывается на UTC.
var DisplayLocation = loadLocation("America/Sao_Paulo")

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatDateBR форматирует дату как dd/MM/yyyy в DisplayLocation.
func FormatDateBR(t time.Time) string {
	return t.In(DisplayLocation).Format("02/01/2006")
}

// FormatBRL форматирует сумму как «R$ 1.530,75».
func FormatBRL(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return sign + "R$ " + b.String() + "," + frac
}
