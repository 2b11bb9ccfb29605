package dht

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dnaerr"
)

// GroupRole mirrors a group membership role for the purposes of the DHT
// metadata record; the authoritative membership state machine lives in the
// group package, this is only what gets published.
type GroupRole string

const (
	GroupRoleOwner  GroupRole = "owner"
	GroupRoleMember GroupRole = "member"
)

// GroupMember is one row of a group's published member list.
type GroupMember struct {
	Fingerprint string    `json:"fingerprint"`
	Role        GroupRole `json:"role"`
}

// GroupMetadata is the published, signed description of a group: its
// member list and the current GSK generation, owned and re-signed by the
// group's current owner on every membership change (spec section 5/6).
type GroupMetadata struct {
	GroupID    string        `json:"group_id"`
	Name       string        `json:"name"`
	Members    []GroupMember `json:"members"`
	GSKGen     uint32        `json:"gsk_generation"`
	OwnerFP    string        `json:"owner_fp"`
	OwnerUntil int64         `json:"owner_token_expires_at"`
}

// OwnerTokenTTL is the lifetime of a group ownership token (spec section
// 6's group ownership expiry).
const OwnerTokenTTL = 7 * 24 * time.Hour

// PublishGroupMetadata stores a new signed metadata record for a group,
// always authored by the current owner, always superseding any previous
// record for the same GroupID.
func PublishGroupMetadata(store *Store, owner *crypto.SigningKeyPair, meta GroupMetadata) error {
	now := time.Now()
	meta.OwnerUntil = now.Add(OwnerTokenTTL).Unix()

	payload, err := json.Marshal(meta)
	if err != nil {
		return dnaerr.New(dnaerr.KindCrypto, "PublishGroupMetadata", "failed to encode group metadata")
	}

	value := SignedValue{
		Key:         DeriveKey(RecordTypeGroup, meta.GroupID),
		Payload:     payload,
		AuthorFP:    meta.OwnerFP,
		SequenceNum: uint64(now.UnixNano()),
	}
	value.Sign(owner)
	return store.Put(value)
}

// LookupGroupMetadata resolves the current metadata record for a group.
func LookupGroupMetadata(store *Store, groupID string) (GroupMetadata, bool, error) {
	value, ok, err := store.Get(DeriveKey(RecordTypeGroup, groupID))
	if err != nil || !ok {
		return GroupMetadata{}, false, err
	}
	var meta GroupMetadata
	if err := json.Unmarshal(value.Payload, &meta); err != nil {
		return GroupMetadata{}, false, dnaerr.New(dnaerr.KindCrypto, "LookupGroupMetadata", "malformed group metadata payload")
	}
	if !meta.OwnerTokenValid(time.Now()) {
		return GroupMetadata{}, false, nil
	}
	return meta, true, nil
}

// OwnerTokenValid reports whether the ownership token embedded in this
// metadata record has not yet expired.
func (m GroupMetadata) OwnerTokenValid(now time.Time) bool {
	return now.Unix() < m.OwnerUntil
}

// GSKCapsule is a group shared-key capsule addressed to one member: the
// current generation's symmetric key, KEM-wrapped for that member alone,
// published by the owner whenever membership or generation changes.
type GSKCapsule struct {
	GroupID       string `json:"group_id"`
	Generation    uint32 `json:"generation"`
	MemberFP      string `json:"member_fp"`
	KEMCiphertext []byte `json:"kem_ciphertext"`
	WrappedKey    []byte `json:"wrapped_key"`
}

// gskRecordID derives the per-member, per-generation DHT key for a GSK
// capsule, so every member's capsule for every generation lives at its own
// address and rotation never overwrites a capsule still being fetched.
func gskRecordID(groupID, memberFP string, generation uint32) string {
	return groupID + ":" + memberFP + ":" + strconv.FormatUint(uint64(generation), 10)
}

// PublishGSKCapsule stores a signed capsule for one member.
func PublishGSKCapsule(store *Store, owner *crypto.SigningKeyPair, ownerFP string, capsule GSKCapsule) error {
	payload, err := json.Marshal(capsule)
	if err != nil {
		return dnaerr.New(dnaerr.KindCrypto, "PublishGSKCapsule", "failed to encode GSK capsule")
	}

	value := SignedValue{
		Key:         DeriveKey(RecordTypeGSK, gskRecordID(capsule.GroupID, capsule.MemberFP, capsule.Generation)),
		Payload:     payload,
		AuthorFP:    ownerFP,
		SequenceNum: uint64(time.Now().UnixNano()),
	}
	value.Sign(owner)
	return store.Put(value)
}

// LookupGSKCapsule fetches a member's capsule for a specific generation.
func LookupGSKCapsule(store *Store, groupID, memberFP string, generation uint32) (GSKCapsule, bool, error) {
	value, ok, err := store.Get(DeriveKey(RecordTypeGSK, gskRecordID(groupID, memberFP, generation)))
	if err != nil || !ok {
		return GSKCapsule{}, false, err
	}
	var capsule GSKCapsule
	if err := json.Unmarshal(value.Payload, &capsule); err != nil {
		return GSKCapsule{}, false, dnaerr.New(dnaerr.KindCrypto, "LookupGSKCapsule", "malformed GSK capsule payload")
	}
	return capsule, true, nil
}
