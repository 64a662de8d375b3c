package normalize

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/tenderfeed/tender-cli/internal/model"
)

var (
	// ErrNotAnObject is returned for payloads that are not a JSON object.
	ErrNotAnObject = eris.New("release payload is not a JSON object")
	// ErrMissingReleaseID is returned for payloads without an id.
	ErrMissingReleaseID = eris.New("release payload has no id")
)

// Parsed is a release payload split into the rows the store persists.
type Parsed struct {
	Release   model.Release
	Tender    model.Tender
	Entity    *model.ProcuringEntity
	Documents []model.TenderDocument
}

// textRule reads the first non-empty path into a tender field.
type textRule struct {
	Paths   []string
	Default string
	Lower   bool
	Set     func(t *model.Tender, v string)
}

// listRule reads the first non-empty list path into a tender field.
type listRule struct {
	Paths []string
	Set   func(t *model.Tender, v []string)
}

// tenderTextRules prefer the OCDS field and fall back to generic aliases.
var tenderTextRules = []textRule{
	{Paths: []string{"tender.title"}, Set: func(t *model.Tender, v string) { t.Title = v }},
	{Paths: []string{"tender.description"}, Set: func(t *model.Tender, v string) { t.Description = v }},
	{Paths: []string{"tender.status"}, Default: string(model.TenderStatusActive), Lower: true, Set: func(t *model.Tender, v string) { t.Status = model.TenderStatus(v) }},
	{Paths: []string{"tender.mainProcurementCategory", "tender.category"}, Set: func(t *model.Tender, v string) { t.Category = v }},
	{Paths: []string{"tender.procuringRegion", "tender.province"}, Set: func(t *model.Tender, v string) { t.Province = v }},
	{Paths: []string{"tender.procuringCity", "tender.city"}, Set: func(t *model.Tender, v string) { t.City = v }},
	{Paths: []string{"tender.value.currency"}, Default: model.DefaultCurrency, Set: func(t *model.Tender, v string) { t.ValueCurrency = v }},
	{Paths: []string{"tender.id", "id"}, Set: func(t *model.Tender, v string) { t.TenderID = v }},
	{Paths: []string{"ocid"}, Set: func(t *model.Tender, v string) { t.OCID = v }},
}

var tenderListRules = []listRule{
	{Paths: []string{"tender.additionalProcurementCategories"}, Set: func(t *model.Tender, v []string) { t.AdditionalProcurementCategories = v }},
	{Paths: []string{"tender.additionalClassifications", "tender.cpvCodes"}, Set: func(t *model.Tender, v []string) { t.CPVCodes = v }},
	{Paths: []string{"tender.submissionMethod"}, Set: func(t *model.Tender, v []string) { t.SubmissionMethods = v }},
}

// ParseRelease extracts the release header, tender, buyer and documents
// from an OCDS release payload. now stamps releases with no usable date.
func ParseRelease(payload []byte, now time.Time) (*Parsed, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ErrNotAnObject
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return nil, ErrNotAnObject
	}

	releaseID := doc.Get("id").String()
	if strings.TrimSpace(releaseID) == "" {
		return nil, ErrMissingReleaseID
	}

	p := &Parsed{
		Release: model.Release{
			ReleaseID:      releaseID,
			OCID:           doc.Get("ocid").String(),
			Date:           now.UTC(),
			Tag:            listOf(doc.Get("tag")),
			InitiationType: doc.Get("initiationType").String(),
			RawJSON:        append([]byte(nil), payload...),
		},
	}
	if t, ok := ParseTime(doc.Get("date").String()); ok {
		p.Release.Date = t
	}
	if p.Release.Tag == nil {
		p.Release.Tag = []string{}
	}

	p.Tender = parseTender(doc)
	p.Entity = parseEntity(doc.Get("tender.procuringEntity"))
	p.Documents = parseDocuments(doc.Get("tender.documents"))
	return p, nil
}

func parseTender(doc gjson.Result) model.Tender {
	var t model.Tender
	for _, rule := range tenderTextRules {
		v := rule.Default
		for _, path := range rule.Paths {
			if s := doc.Get(path).String(); s != "" {
				v = s
				break
			}
		}
		if rule.Lower {
			v = strings.ToLower(v)
		}
		rule.Set(&t, v)
	}
	for _, rule := range tenderListRules {
		v := []string{}
		for _, path := range rule.Paths {
			if list := listOf(doc.Get(path)); len(list) > 0 {
				v = list
				break
			}
		}
		rule.Set(&t, v)
	}

	if amount := doc.Get("tender.value.amount"); amount.Exists() {
		if f, ok := number(amount.Value()); ok {
			t.ValueAmount = &f
		}
	}
	if start, ok := ParseTime(doc.Get("tender.tenderPeriod.startDate").String()); ok {
		t.TenderStartDate = &start
	}
	if end, ok := ParseTime(doc.Get("tender.tenderPeriod.endDate").String()); ok {
		t.TenderEndDate = &end
	}
	return t
}

// parseEntity returns nil unless the buyer has an id or a name.
func parseEntity(pe gjson.Result) *model.ProcuringEntity {
	if !pe.IsObject() {
		return nil
	}
	id := pe.Get("id").String()
	name := pe.Get("name").String()
	if id == "" && name == "" {
		return nil
	}

	partyID, displayName := id, name
	if partyID == "" {
		partyID = name
	}
	if displayName == "" {
		displayName = id
	}
	return &model.ProcuringEntity{
		PartyID:      partyID,
		Name:         displayName,
		ContactName:  pe.Get("contactPoint.name").String(),
		ContactEmail: pe.Get("contactPoint.email").String(),
		ContactPhone: pe.Get("contactPoint.telephone").String(),
	}
}

// parseDocuments keeps the last entry for any repeated document id.
func parseDocuments(list gjson.Result) []model.TenderDocument {
	docs := []model.TenderDocument{}
	if !list.IsArray() {
		return docs
	}

	seen := make(map[string]int)
	list.ForEach(func(_, d gjson.Result) bool {
		if !d.IsObject() {
			return true
		}
		doc := model.TenderDocument{
			DocumentID:   d.Get("id").String(),
			DocumentType: d.Get("documentType").String(),
			Title:        d.Get("title").String(),
			URL:          d.Get("url").String(),
			Format:       d.Get("format").String(),
		}
		if published, ok := ParseTime(d.Get("datePublished").String()); ok {
			doc.DatePublished = &published
		}
		if i, ok := seen[doc.DocumentID]; ok {
			docs[i] = doc
			return true
		}
		seen[doc.DocumentID] = len(docs)
		docs = append(docs, doc)
		return true
	})
	return docs
}

func listOf(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	return codeList(r.Value())
}
