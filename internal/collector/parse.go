package collector

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

var (
	priceRe   = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{2}))?`)
	yearRe    = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	mileageRe = regexp.MustCompile(`(?i)\b(\d{1,3}(?:,\d{3})+|\d+)\s*(k)?\s*(?:miles?|mi|kilometers?|kms?)\b`)
	makeRe    = regexp.MustCompile(`(?i)\b(` + strings.Join(knownMakeKeys(), "|") + `)\b(?:\s+([a-z0-9][a-z0-9-]*))?`)
)

// knownMakes はタイトルから認識するメーカー名と正規化後の表記。
var knownMakes = map[string]string{
	"acura": "Acura", "audi": "Audi", "bmw": "BMW", "buick": "Buick",
	"cadillac": "Cadillac", "chevrolet": "Chevrolet", "chevy": "Chevrolet",
	"chrysler": "Chrysler", "dodge": "Dodge", "ford": "Ford", "gmc": "GMC",
	"honda": "Honda", "hyundai": "Hyundai", "infiniti": "Infiniti", "jeep": "Jeep",
	"kia": "Kia", "lexus": "Lexus", "lincoln": "Lincoln", "mazda": "Mazda",
	"mercedes": "Mercedes-Benz", "mitsubishi": "Mitsubishi", "nissan": "Nissan",
	"ram": "Ram", "subaru": "Subaru", "tesla": "Tesla", "toyota": "Toyota",
	"volkswagen": "Volkswagen", "vw": "Volkswagen", "volvo": "Volvo",
}

func knownMakeKeys() []string {
	keys := make([]string, 0, len(knownMakes))
	for k := range knownMakes {
		keys = append(keys, k)
	}
	return keys
}

// parsePrice は"$12,345"形式の最初の金額を返す。
func parsePrice(text string) (decimal.Decimal, bool) {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Decimal{}, false
	}
	digits := strings.ReplaceAll(m[1], ",", "")
	if m[2] != "" {
		digits += "." + m[2]
	}
	d, err := decimal.NewFromString(digits)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// parseYear はmaxYear以下の最初の4桁の年式を返す。
func parseYear(text string, maxYear int) (int, bool) {
	for _, m := range yearRe.FindAllString(text, -1) {
		y, err := strconv.Atoi(m)
		if err == nil && y >= 1900 && y <= maxYear {
			return y, true
		}
	}
	return 0, false
}

// parseMileage は"85,000 miles"や"120k km"形式の走行距離を返す。単位の換算はしない。
func parseMileage(text string) (int, bool) {
	m := mileageRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0, false
	}
	if m[2] != "" {
		n *= 1000
	}
	return n, true
}

// parseMakeModel はタイトル中の既知のメーカー名と、その直後の単語をモデルとして返す。
func parseMakeModel(text string) (carMake, carModel string) {
	m := makeRe.FindStringSubmatch(text)
	if m == nil {
		return "", ""
	}
	carMake = knownMakes[strings.ToLower(m[1])]
	if m[2] != "" {
		carModel = capitalize(m[2])
	}
	return carMake, carModel
}

func capitalize(s string) string {
	s = strings.ToLower(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// htmlText はフィードのdescriptionに含まれるHTMLからテキストノードだけを連結する。
func htmlText(fragment string) string {
	var b strings.Builder
	z := html.NewTokenizer(bytes.NewReader([]byte(fragment)))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == "script" || string(name) == "style" {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); (string(name) == "script" || string(name) == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}
