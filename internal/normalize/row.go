// Package normalize converts tabular rows and OCDS release payloads into
// the shapes the ingestion pipeline persists.
package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/model"
)

// Row is one decoded spreadsheet, CSV or JSON record keyed by column name.
type Row map[string]any

// Reason says why a row could not be converted into a release.
type Reason string

const (
	ReasonMissingID Reason = "missing_id"
	ReasonMalformed Reason = "malformed"
)

// Result is either a canonical release payload or an unconvertible marker.
type Result struct {
	Release json.RawMessage
	Reason  Reason
}

// OK reports whether the row produced a release.
func (r Result) OK() bool { return r.Reason == "" && len(r.Release) > 0 }

func unconvertible(reason Reason) Result { return Result{Reason: reason} }

type valueKind int

const (
	kindText valueKind = iota
	kindLower
	kindAmount
	kindList
)

// rowRule maps the first non-empty column alias onto a release path.
type rowRule struct {
	Target  string
	Columns []string
	Kind    valueKind
	// Default applies when every alias is empty. nil leaves Target unset.
	Default any
	// Derive computes a default from the release id.
	Derive func(releaseID string) any
	// Requires names a target that must already be set for the rule to apply.
	Requires string
}

// idColumns are the aliases a row's release id is read from.
var idColumns = []string{"id", "release_id", "tender_id"}

// rowRules is the tabular format's mapping table, applied in order.
var rowRules = []rowRule{
	{Target: "tender.title", Columns: []string{"title", "tender_title"}, Default: ""},
	{Target: "tender.description", Columns: []string{"description", "tender_description"}, Default: ""},
	{Target: "tender.status", Columns: []string{"status"}, Kind: kindLower, Default: string(model.TenderStatusActive)},
	{Target: "tender.mainProcurementCategory", Columns: []string{"category", "main_procurement_category"}, Default: ""},
	{Target: "tender.value.amount", Columns: []string{"value_amount", "value", "amount"}, Kind: kindAmount},
	{Target: "tender.value.currency", Columns: []string{"value_currency", "currency"}, Default: model.DefaultCurrency, Requires: "tender.value.amount"},
	{Target: "tender.tenderPeriod.startDate", Columns: []string{"tender_start_date", "start_date"}},
	{Target: "tender.tenderPeriod.endDate", Columns: []string{"tender_end_date", "end_date", "closing_date"}},
	{Target: "tender.additionalClassifications", Columns: []string{"cpv_codes", "cpvcodes", "additional_classifications"}, Kind: kindList},
	{Target: "tender.province", Columns: []string{"province", "procuring_region"}},
	{Target: "tender.city", Columns: []string{"city", "procuring_city"}},
	{Target: "tender.procuringEntity.name", Columns: []string{"procuring_entity", "buyer", "procuring_entity_name"}},
	{Target: "tender.procuringEntity.id", Columns: []string{"procuring_entity_id", "procuring_entity", "buyer", "procuring_entity_name"}, Requires: "tender.procuringEntity.name"},
	{Target: "ocid", Columns: []string{"ocid"}, Derive: func(id string) any { return "ocds-" + id }},
	{Target: "date", Columns: []string{"date", "release_date"}, Derive: func(string) any { return nowFunc().UTC().Format(time.RFC3339) }},
	{Target: "tag", Columns: []string{"tag"}, Kind: kindList, Default: []string{"tender"}},
	{Target: "initiationType", Columns: []string{"initiation_type"}, Default: "tender"},
}

var nowFunc = time.Now

// Normalize converts a row into a canonical OCDS release. Rows that already
// carry a release (a raw_json column, or a tender object) are passed through.
func Normalize(row Row) Result {
	cols := make(map[string]any, len(row))
	for k, v := range row {
		cols[normalizeCol(k)] = v
	}

	if raw, ok := cols["raw_json"].(string); ok {
		if gjson.Valid(raw) && gjson.Parse(raw).IsObject() {
			return Result{Release: json.RawMessage(raw)}
		}
	}
	if _, ok := row["tender"].(map[string]any); ok {
		b, err := json.Marshal(row)
		if err != nil {
			zap.L().Warn("normalize: marshal release row", zap.Error(err))
			return unconvertible(ReasonMalformed)
		}
		return Result{Release: b}
	}

	id := text(firstPresent(cols, idColumns, kindText))
	if id == "" {
		return unconvertible(ReasonMissingID)
	}

	doc, err := synthesize(cols, id)
	if err != nil {
		zap.L().Warn("normalize: build release from row",
			zap.String("release_id", id),
			zap.Error(err),
		)
		return unconvertible(ReasonMalformed)
	}
	return Result{Release: doc}
}

func synthesize(cols map[string]any, id string) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	if doc, err = sjson.SetBytes(doc, "id", id); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetBytes(doc, "tender.id", id); err != nil {
		return nil, err
	}

	for _, rule := range rowRules {
		if rule.Requires != "" && !gjson.GetBytes(doc, rule.Requires).Exists() {
			continue
		}
		v := firstPresent(cols, rule.Columns, rule.Kind)
		if v == nil {
			switch {
			case rule.Derive != nil:
				v = rule.Derive(id)
			case rule.Default != nil:
				v = rule.Default
			default:
				continue
			}
		}
		if doc, err = sjson.SetBytes(doc, rule.Target, v); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// firstPresent returns the first alias whose coerced value is non-empty,
// or nil when none is.
func firstPresent(cols map[string]any, aliases []string, kind valueKind) any {
	for _, alias := range aliases {
		raw, ok := cols[alias]
		if !ok {
			continue
		}
		switch kind {
		case kindAmount:
			// Zero and non-numeric amounts count as absent.
			if f, ok := number(raw); ok && f != 0 {
				return f
			}
			if text(raw) != "" {
				return nil
			}
		case kindList:
			if list := codeList(raw); len(list) > 0 {
				return list
			}
		case kindLower:
			if s := text(raw); s != "" {
				return strings.ToLower(s)
			}
		default:
			if s := text(raw); s != "" {
				return s
			}
		}
	}
	return nil
}
