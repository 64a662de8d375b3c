package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/tenderfeed/tender-cli/internal/model"
)

// Column lists shared by both backends. Scanners below read them in order.
const (
	tenderColumns = `t.id, t.release_id, t.tender_id, t.ocid, t.title, t.description, t.status, t.category,
		t.additional_procurement_categories, t.province, t.city, t.value_amount, t.value_currency,
		t.tender_start_date, t.tender_end_date, t.procuring_entity_id, t.cpv_codes, t.submission_methods,
		t.match_score, t.created_at, t.updated_at,
		pe.party_id, pe.name, pe.contact_name, pe.contact_email, pe.contact_phone`

	documentColumns = `id, tender_id, document_id, document_type, title, url, date_published, format`

	runColumns = `id, source, started_at, finished_at, items_ingested, items_failed, success, details`

	errorColumns = `id, run_id, occurred_at, release_id, message, payload_snippet`

	profileColumns = `id, user_id, company_name, registration_number, bbbee_level, contact_email, contact_phone,
		province, city, preferred_cpv_codes, preferred_buyers, min_value, max_value,
		notify_email, notify_sms, notify_whatsapp, notifications_paused`
)

// documentCopyColumns is the column order used when bulk-writing documents.
var documentCopyColumns = []string{"tender_id", "document_id", "document_type", "title", "url", "date_published", "format"}

type scannable interface {
	Scan(dest ...any) error
}

// encodeList stores string lists as JSON arrays; nil becomes [].
func encodeList(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "marshal list")
}

func decodeList(b []byte) ([]string, error) {
	out := []string{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrap(err, "unmarshal list")
	}
	return out, nil
}

// nullString maps the empty string to NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanTender(row scannable) (*model.Tender, error) {
	var t model.Tender
	var apc, cpv, methods []byte
	var partyID, name, contactName, contactEmail, contactPhone *string

	if err := row.Scan(
		&t.ID, &t.ReleaseID, &t.TenderID, &t.OCID, &t.Title, &t.Description, &t.Status, &t.Category,
		&apc, &t.Province, &t.City, &t.ValueAmount, &t.ValueCurrency,
		&t.TenderStartDate, &t.TenderEndDate, &t.ProcuringEntityID, &cpv, &methods,
		&t.MatchScore, &t.CreatedAt, &t.UpdatedAt,
		&partyID, &name, &contactName, &contactEmail, &contactPhone,
	); err != nil {
		return nil, err
	}

	var err error
	if t.AdditionalProcurementCategories, err = decodeList(apc); err != nil {
		return nil, err
	}
	if t.CPVCodes, err = decodeList(cpv); err != nil {
		return nil, err
	}
	if t.SubmissionMethods, err = decodeList(methods); err != nil {
		return nil, err
	}

	if t.ProcuringEntityID != nil && partyID != nil {
		t.ProcuringEntity = &model.ProcuringEntity{
			ID:           *t.ProcuringEntityID,
			PartyID:      *partyID,
			Name:         deref(name),
			ContactName:  deref(contactName),
			ContactEmail: deref(contactEmail),
			ContactPhone: deref(contactPhone),
		}
	}
	return &t, nil
}

func scanDocument(row scannable) (model.TenderDocument, error) {
	var d model.TenderDocument
	err := row.Scan(&d.ID, &d.TenderID, &d.DocumentID, &d.DocumentType, &d.Title, &d.URL, &d.DatePublished, &d.Format)
	return d, err
}

func scanRun(row scannable) (*model.IngestionRun, error) {
	var r model.IngestionRun
	if err := row.Scan(
		&r.ID, &r.Source, &r.StartedAt, &r.FinishedAt,
		&r.ItemsIngested, &r.ItemsFailed, &r.Success, &r.Details,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanError(row scannable) (model.IngestionError, error) {
	var e model.IngestionError
	err := row.Scan(&e.ID, &e.RunID, &e.OccurredAt, &e.ReleaseID, &e.Message, &e.PayloadSnippet)
	return e, err
}

func scanProfile(row scannable) (*model.SupplierProfile, error) {
	var p model.SupplierProfile
	var userID *string
	var cpv, buyers []byte
	if err := row.Scan(
		&p.ID, &userID, &p.CompanyName, &p.RegistrationNumber, &p.BBBEELevel, &p.ContactEmail, &p.ContactPhone,
		&p.Province, &p.City, &cpv, &buyers, &p.MinValue, &p.MaxValue,
		&p.NotifyEmail, &p.NotifySMS, &p.NotifyWhatsApp, &p.NotificationsPaused,
	); err != nil {
		return nil, err
	}
	p.UserID = deref(userID)

	var err error
	if p.PreferredCPVCodes, err = decodeList(cpv); err != nil {
		return nil, err
	}
	if p.PreferredBuyers, err = decodeList(buyers); err != nil {
		return nil, err
	}
	return &p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
