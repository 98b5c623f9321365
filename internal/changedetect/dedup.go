package changedetect

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"casewatch/internal/collector"
)

// DedupKey computes the identity used to reconcile a raw record against the
// canonical store. Sources with a stable natural id use it directly; the rest
// fall back to a normalized name+location+date fingerprint. The fingerprint is
// best effort: common names can mis-merge, so it is only as trustworthy as
// the source that forced its use.
func DedupKey(rec collector.RawRecord, stableID bool) string {
	ext := strings.TrimSpace(rec.ExternalID)
	if stableID && ext != "" {
		return "src:" + rec.SourceID + ":" + ext
	}
	return "fp:" + fingerprint(rec.Person)
}

func fingerprint(p collector.PersonPayload) string {
	parts := []string{
		normalizeToken(p.FirstName),
		normalizeToken(p.LastName),
		normalizeToken(p.City),
		normalizeToken(p.State),
	}
	if p.DateMissing != nil {
		parts = append(parts, p.DateMissing.UTC().Format("2006-01-02"))
	}
	h := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

func normalizeToken(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
