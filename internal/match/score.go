// Package match scores tenders against supplier profiles.
package match

import (
	"math"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tenderfeed/tender-cli/internal/model"
)

const (
	maxScore = 100

	maxClassification = 40
	maxKeywords       = 25

	provincePoints = 10
	cityPoints     = 5
	valuePoints    = 10
	buyerPoints    = 10
)

// Breakdown holds the points each component contributed.
type Breakdown struct {
	Classification int `json:"classification"`
	Keywords       int `json:"keywords"`
	Location       int `json:"location"`
	Value          int `json:"value"`
	Buyer          int `json:"buyer"`
	Recency        int `json:"recency"`
	Total          int `json:"total"`
}

// Score returns the 0-100 relevance of a tender for a supplier at time now.
func Score(t *model.Tender, p *model.SupplierProfile, now time.Time) int {
	return Explain(t, p, now).Total
}

// Explain scores a tender and reports each component. It has no side
// effects and is safe for concurrent use.
func Explain(t *model.Tender, p *model.SupplierProfile, now time.Time) Breakdown {
	b := Breakdown{
		Classification: scoreClassification(t.CPVCodes, p.PreferredCPVCodes),
		Keywords:       scoreKeywords(keywordsFor(p), t.Title+" "+t.Description),
		Location:       scoreLocation(t, p),
		Value:          scoreValue(t.ValueAmount, p.MinValue, p.MaxValue),
		Buyer:          scoreBuyer(t, p.PreferredBuyers),
		Recency:        scoreRecency(t.TenderEndDate, now),
	}
	sum := b.Classification + b.Keywords + b.Location + b.Value + b.Buyer + b.Recency
	b.Total = max(0, min(maxScore, sum))
	return b
}

func scoreClassification(tenderCodes, preferred []string) int {
	if len(tenderCodes) == 0 || len(preferred) == 0 {
		return 0
	}
	overlap := mapset.NewSet(preferred...).Intersect(mapset.NewSet(tenderCodes...)).Cardinality()
	if overlap == 0 {
		return 0
	}
	return min(maxClassification, 20+10*overlap)
}

// keywordsFor returns the company name followed by the preferred buyers.
func keywordsFor(p *model.SupplierProfile) []string {
	return append([]string{p.CompanyName}, p.PreferredBuyers...)
}

func scoreKeywords(keywords []string, text string) int {
	text = strings.ToLower(text)
	hits := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return min(maxKeywords, 10+5*hits)
}

func scoreLocation(t *model.Tender, p *model.SupplierProfile) int {
	if p.Province == "" || !strings.EqualFold(p.Province, t.Province) {
		return 0
	}
	points := provincePoints
	if p.City != "" && strings.EqualFold(p.City, t.City) {
		points += cityPoints
	}
	return points
}

func scoreValue(amount *float64, minValue, maxValue float64) int {
	if amount == nil {
		return 0
	}
	if minValue <= *amount && *amount <= maxValue {
		return valuePoints
	}
	return 0
}

func scoreBuyer(t *model.Tender, preferred []string) int {
	if t.ProcuringEntity == nil {
		return 0
	}
	if slices.Contains(preferred, t.ProcuringEntity.Name) {
		return buyerPoints
	}
	return 0
}

// scoreRecency rewards tenders that stay open longer. Days remaining are
// floored, so a tender closing in 23 hours has 0 days left.
func scoreRecency(end *time.Time, now time.Time) int {
	if end == nil {
		return 0
	}
	days := int(math.Floor(end.Sub(now).Hours() / 24))
	switch {
	case days >= 14:
		return 10
	case days >= 7:
		return 7
	case days >= 1:
		return 4
	default:
		return 0
	}
}
