package common

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DefaultWidth is the standard width for console output separators
	DefaultWidth = 80
)

// PrintSeparator prints a separator line with the specified character and width
func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintSeparatorNewline prints a separator with a newline before it
func PrintSeparatorNewline(char string, width int) {
	fmt.Println("\n" + strings.Repeat(char, width))
}

// PrintHeader prints a formatted header with title and separators
func PrintHeader(title string, width int) {
	PrintSeparatorNewline("=", width)
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter prints a formatted footer with message and separators
func PrintFooter(message string, width int) {
	PrintSeparatorNewline("=", width)
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// PrintBoxSeparator prints a box-drawing separator line (for sub-sections)
func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// BoxPrefix returns the appropriate box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// FormatMoney renders an amount with two decimals and a currency code,
// e.g. "86.43 USD".
func FormatMoney(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	return amount.StringFixed(2) + " " + currency
}

// FormatSigned is FormatMoney with an explicit sign, for ledger movements.
func FormatSigned(amount decimal.Decimal, currency string) string {
	s := FormatMoney(amount, currency)
	if amount.IsPositive() {
		return "+" + s
	}
	return s
}

// Truncate shortens s to n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
