package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ReferenceType names an external-object reference kind, drawn from a
// closed vocabulary that gates which extractors and matchers apply.
type ReferenceType string

const (
	ReferenceARN          ReferenceType = "arn"
	ReferenceK8s          ReferenceType = "k8s_ref"
	ReferenceImage        ReferenceType = "container_image"
	ReferenceStoragePath  ReferenceType = "storage_path"
	ReferenceGitURL       ReferenceType = "git_url"
	ReferenceGenericID    ReferenceType = "generic_resource_id"
)

// ExternalReference is a typed, normalized identifier of a real-world
// object. Equality is defined by (ReferenceType, NormalizedIdentifier)
// — never by the raw Identifier.
type ExternalReference struct {
	ReferenceType        ReferenceType     `json:"reference_type"`
	Identifier           string            `json:"identifier"`
	NormalizedIdentifier string            `json:"normalized_identifier"`
	Provider             string            `json:"provider,omitempty"`
	Attributes           map[string]string `json:"attributes,omitempty"`
	Confidence           float64           `json:"confidence"` // 0..1
	Hash                 string            `json:"hash"`
}

// ReferenceHash computes the stable SHA-256 hash over
// "<referenceType>:<lowercased identifier>" that ExternalReference.Hash
// must equal. It is exported so extractors and tests can verify the
// "hash(t, id) = hash(t, normalize(id))" property independently of the
// Normalize implementation used to produce NormalizedIdentifier.
func ReferenceHash(refType ReferenceType, identifier string) string {
	sum := sha256.Sum256([]byte(string(refType) + ":" + strings.ToLower(identifier)))
	return hex.EncodeToString(sum[:])
}

// NewExternalReference builds an ExternalReference with its hash
// computed from the normalized identifier, keeping the hash-stability
// invariant (§8: hash(t, id) == hash(t, normalize(id))) true by
// construction.
func NewExternalReference(refType ReferenceType, identifier, normalized string, confidence float64) ExternalReference {
	return ExternalReference{
		ReferenceType:        refType,
		Identifier:           identifier,
		NormalizedIdentifier: normalized,
		Confidence:           confidence,
		Hash:                 ReferenceHash(refType, normalized),
	}
}

// IndexEntry links one node to the external references it carries.
type IndexEntry struct {
	ID             string              `json:"id" db:"id"`
	TenantID       Tenant              `json:"tenant_id" db:"tenant_id"`
	ScanID         string              `json:"scan_id" db:"scan_id"`
	RepositoryID   string              `json:"repository_id" db:"repository_id"`
	NodeID         string              `json:"node_id" db:"node_id"`
	References     []ExternalReference `json:"references"`
	CollectionHash string              `json:"collection_hash" db:"collection_hash"`
}

// ComputeCollectionHash is the ordered SHA-256 over the sorted member
// hashes of refs. Index builds store it on each entry but do not
// compare it with an earlier build, so a scan whose references have
// not changed is still rebuilt in full.
func ComputeCollectionHash(refs []ExternalReference) string {
	hashes := make([]string, len(refs))
	for i, r := range refs {
		hashes[i] = r.Hash
	}
	sort.Strings(hashes)
	h := sha256.New()
	for _, hh := range hashes {
		h.Write([]byte(hh))
	}
	return hex.EncodeToString(h.Sum(nil))
}
