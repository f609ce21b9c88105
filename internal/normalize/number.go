package normalize

import (
	"strconv"
	"strings"
)

// numberWords maps lowercased spelled-out numerals to their numeric value.
// Three vocabularies are folded into one table: English, Devanagari Hindi,
// and romanised Hindi as it commonly appears in mixed-locale transcripts.
var numberWords = map[string]float64{
	// English
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
	"thirty": 30, "forty": 40, "fifty": 50, "sixty": 60, "seventy": 70,
	"eighty": 80, "ninety": 90, "hundred": 100,
	"half": 0.5, "quarter": 0.25,

	// Hindi (Devanagari)
	"शून्य": 0, "एक": 1, "दो": 2, "तीन": 3, "चार": 4,
	"पांच": 5, "पाँच": 5, "छह": 6, "छः": 6, "सात": 7, "आठ": 8, "नौ": 9,
	"दस": 10, "ग्यारह": 11, "बारह": 12, "तेरह": 13, "चौदह": 14, "पंद्रह": 15,
	"सोलह": 16, "सत्रह": 17, "अठारह": 18, "उन्नीस": 19, "बीस": 20,
	"तीस": 30, "चालीस": 40, "पचास": 50, "साठ": 60, "सत्तर": 70,
	"अस्सी": 80, "नब्बे": 90, "सौ": 100,
	"आधा": 0.5, "डेढ़": 1.5, "ढाई": 2.5,

	// Hindi (romanised)
	"ek": 1, "do": 2, "teen": 3, "char": 4, "chaar": 4,
	"paanch": 5, "panch": 5, "chhah": 6, "che": 6, "saat": 7, "aath": 8,
	"nau": 9, "das": 10, "gyarah": 11, "barah": 12, "terah": 13,
	"chaudah": 14, "pandrah": 15, "solah": 16, "satrah": 17, "atharah": 18,
	"unnis": 19, "bees": 20, "tees": 30, "chalis": 40, "pachas": 50,
	"saath": 60, "sattar": 70, "assi": 80, "nabbe": 90, "sau": 100,
	"aadha": 0.5, "adha": 0.5, "dedh": 1.5, "dhai": 2.5,
}

// devanagariDigits maps Devanagari digit runes to their ASCII equivalents.
var devanagariDigits = map[rune]rune{
	'०': '0', '१': '1', '२': '2', '३': '3', '४': '4',
	'५': '5', '६': '6', '७': '7', '८': '8', '९': '9',
}

// FoldDigits rewrites Devanagari digits in s to ASCII digits. All other
// runes pass through unchanged.
func FoldDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if d, ok := devanagariDigits[r]; ok {
			return d
		}
		return r
	}, s)
}

// ParseNumber converts a single quantity token — a digit string in ASCII or
// Devanagari, or a spelled-out numeral in any supported vocabulary — to its
// numeric value. ok is false when the token is not a recognised numeral.
func ParseNumber(token string) (v float64, ok bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return 0, false
	}
	if v, ok := numberWords[token]; ok {
		return v, true
	}
	v, err := strconv.ParseFloat(FoldDigits(token), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NumberPattern returns a regular-expression alternation matching digit
// quantities (ASCII or Devanagari, optional decimal part) and every
// spelled-out numeral in the supported vocabularies.
func NumberPattern() string {
	words := make([]string, 0, len(numberWords))
	for w := range numberWords {
		words = append(words, w)
	}
	return `(?:[0-9०-९]+(?:\.[0-9]+)?|` + alternationBody(words) + `)`
}
