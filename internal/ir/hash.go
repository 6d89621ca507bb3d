package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainRecord = "deploydag/record/v1"
	DomainPlan   = "deploydag/plan/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func linksObject(links []LibraryLink) IRArray {
	arr := make(IRArray, len(links))
	for i, l := range links {
		arr[i] = IRObject{
			"slot":    IRString(l.Slot),
			"unit":    IRString(l.Unit),
			"address": IRString(l.Address),
		}
	}
	return arr
}

// RecordID computes the content-addressed ID of a deployment record.
// Timestamps and store sequence numbers are excluded: the ID names what was
// deployed, where, and by which run.
func RecordID(rec Record) (string, error) {
	obj := IRObject{
		"network":   IRString(rec.Network),
		"unit":      IRString(rec.Unit),
		"artifact":  IRString(rec.Artifact),
		"address":   IRString(rec.Address),
		"tx_hash":   IRString(rec.TxHash),
		"args":      rec.Args,
		"libraries": linksObject(rec.Libraries),
		"run_id":    IRString(rec.RunID),
	}
	if rec.Args == nil {
		obj["args"] = IRArray{}
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RecordID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// PlanHash identifies a plan by its requests (names, artifacts, arguments
// and library providers). Two loads of an unchanged plan file hash equal.
func PlanHash(p Plan) (string, error) {
	reqs := make(IRArray, len(p.Requests))
	for i, r := range p.Requests {
		libs := make(IRObject, len(r.Unit.Libraries))
		for _, slot := range r.Unit.Libraries {
			libs[slot] = IRString(r.LibraryProvider(slot))
		}
		args := r.Args
		if args == nil {
			args = IRArray{}
		}
		reqs[i] = IRObject{
			"name":      IRString(r.Name),
			"artifact":  IRString(r.Unit.Name),
			"args":      args,
			"libraries": libs,
		}
	}

	canonical, err := MarshalCanonical(IRObject{
		"name":     IRString(p.Name),
		"requests": reqs,
	})
	if err != nil {
		return "", fmt.Errorf("PlanHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPlan, canonical), nil
}

// MustRecordID is like RecordID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRecordID(rec Record) string {
	id, err := RecordID(rec)
	if err != nil {
		panic(err)
	}
	return id
}
