package model

import (
	"encoding/json"
	"time"
)

// TenderStatus is the lowercased tender status reported by the source.
type TenderStatus string

const (
	TenderStatusActive    TenderStatus = "active"
	TenderStatusComplete  TenderStatus = "complete"
	TenderStatusCancelled TenderStatus = "cancelled"
	TenderStatusPlanning  TenderStatus = "planning"
	TenderStatusPlanned   TenderStatus = "planned"
)

// DefaultCurrency is used when a release omits tender.value.currency.
const DefaultCurrency = "ZAR"

// Release is one OCDS release, kept verbatim alongside its normalized header.
type Release struct {
	ID             int64           `json:"id"`
	ReleaseID      string          `json:"release_id"`
	OCID           string          `json:"ocid"`
	Date           time.Time       `json:"date"`
	Tag            []string        `json:"tag"`
	InitiationType string          `json:"initiation_type"`
	RawJSON        json.RawMessage `json:"raw_json"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LastSeen       time.Time       `json:"last_seen"`
}

// ProcuringEntity is a buyer organization, deduplicated by PartyID.
type ProcuringEntity struct {
	ID           int64  `json:"id"`
	PartyID      string `json:"party_id"`
	Name         string `json:"name"`
	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
}

// Tender is the normalized projection of a release's tender object.
// There is exactly one Tender per Release.
type Tender struct {
	ID                              int64        `json:"id"`
	ReleaseID                       int64        `json:"release_id"`
	TenderID                        string       `json:"tender_id"`
	OCID                            string       `json:"ocid"`
	Title                           string       `json:"title"`
	Description                     string       `json:"description"`
	Status                          TenderStatus `json:"status"`
	Category                        string       `json:"category"`
	AdditionalProcurementCategories []string     `json:"additional_procurement_categories"`
	Province                        string       `json:"province"`
	City                            string       `json:"city"`
	ValueAmount                     *float64     `json:"value_amount"`
	ValueCurrency                   string       `json:"value_currency"`
	TenderStartDate                 *time.Time   `json:"tender_start_date"`
	TenderEndDate                   *time.Time   `json:"tender_end_date"`
	ProcuringEntityID               *int64       `json:"procuring_entity_id"`
	CPVCodes                        []string     `json:"cpv_codes"`
	SubmissionMethods               []string     `json:"submission_methods"`
	MatchScore                      *int         `json:"match_score"`
	CreatedAt                       time.Time    `json:"created_at"`
	UpdatedAt                       time.Time    `json:"updated_at"`

	// ProcuringEntity is populated on reads that join the buyer.
	ProcuringEntity *ProcuringEntity `json:"procuring_entity,omitempty"`
}

// BuyerName returns the procuring entity name, or "" when the tender has none.
func (t *Tender) BuyerName() string {
	if t.ProcuringEntity == nil {
		return ""
	}
	return t.ProcuringEntity.Name
}

// TenderDocument is one document attached to a tender.
type TenderDocument struct {
	ID            int64      `json:"id"`
	TenderID      int64      `json:"tender_id"`
	DocumentID    string     `json:"document_id"`
	DocumentType  string     `json:"document_type"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	DatePublished *time.Time `json:"date_published"`
	Format        string     `json:"format"`
}
