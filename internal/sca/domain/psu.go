package domain

import "strings"

// PsuIdData identifies the PSU an authorisation is run for.
// Only ID is mandatory; the other fields are carried through to the bank.
type PsuIdData struct {
	ID              string `json:"psuId,omitempty"`
	IDType          string `json:"psuIdType,omitempty"`
	CorporateID     string `json:"psuCorporateId,omitempty"`
	CorporateIDType string `json:"psuCorporateIdType,omitempty"`
	IPAddress       string `json:"psuIpAddress,omitempty"`
}

// IsEmpty reports whether no PSU was identified.
func (p PsuIdData) IsEmpty() bool {
	return strings.TrimSpace(p.ID) == ""
}

// SamePsu compares identity fields and ignores request metadata such as the IP address.
func (p PsuIdData) SamePsu(other PsuIdData) bool {
	return p.ID == other.ID &&
		p.IDType == other.IDType &&
		p.CorporateID == other.CorporateID &&
		p.CorporateIDType == other.CorporateIDType
}

// ContainsPsu reports whether list holds psu.
func ContainsPsu(list []PsuIdData, psu PsuIdData) bool {
	for _, p := range list {
		if p.SamePsu(psu) {
			return true
		}
	}
	return false
}
