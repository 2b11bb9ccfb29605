// Package group implements many-to-many group channels: membership state,
// ownership tokens, and Group Symmetric Key (GSK) rotation and
// distribution over the DHT (spec section 4.5's membership state machine
// and section 4.3's group-key capsule records).
package group

import (
	"database/sql"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dht"
	"github.com/dnanet/dna/dnaerr"
	"github.com/dnanet/dna/store"
)

// Role is a local identity's membership state within one group, per the
// {invited, member, former-member, owner} state machine.
type Role string

const (
	RoleInvited      Role = "invited"
	RoleMember       Role = "member"
	RoleFormerMember Role = "former-member"
	RoleOwner        Role = "owner"
)

var validRoleTransitions = map[Role]map[Role]bool{
	RoleInvited: {RoleMember: true, RoleFormerMember: true},
	RoleMember:  {RoleFormerMember: true, RoleOwner: true},
	RoleOwner:   {RoleFormerMember: true},
}

// CanTransitionRole reports whether a local role change is legal. Invited
// moves to member on local accept; member or owner moves to former-member
// on local leave or signed remote removal; member moves to owner only via
// a signed ownership-transfer proof.
func CanTransitionRole(from, to Role) bool {
	return validRoleTransitions[from][to]
}

// Group is the locally-known state of one group channel.
type Group struct {
	ID        string
	Name      string
	CreatorFP string
	Role      Role
	GSKGen    uint32
	CreatedAt time.Time
}

// Store persists local group records on top of store.Store and drives
// GSK capsule publication/lookup through a dht.Store.
type Store struct {
	db  *sql.DB
	dht *dht.Store
}

// NewStore wraps s and overlay for group operations.
func NewStore(s *store.Store, overlay *dht.Store) *Store {
	return &Store{db: s.Contacts(), dht: overlay}
}

// CreateGroup generates a new group UUID v4 (fail-closed on entropy
// failure, since uuid.NewRandom reads from crypto/rand) and an initial
// GSK, publishing both the group metadata and the creator's own capsule.
func (s *Store) CreateGroup(name string, creatorFP string, owner *crypto.SigningKeyPair, ownerEnc kem.PublicKey) (Group, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Store.CreateGroup", "package": "group"})

	id, err := uuid.NewRandom()
	if err != nil {
		return Group{}, dnaerr.New(dnaerr.KindCrypto, "Store.CreateGroup", "failed to generate group id")
	}

	g := Group{
		ID:        id.String(),
		Name:      name,
		CreatorFP: creatorFP,
		Role:      RoleOwner,
		GSKGen:    1,
		CreatedAt: time.Now(),
	}

	if err := s.insertLocal(g); err != nil {
		return Group{}, err
	}

	meta := dht.GroupMetadata{
		GroupID: g.ID,
		Name:    g.Name,
		Members: []dht.GroupMember{{Fingerprint: creatorFP, Role: dht.GroupRoleOwner}},
		GSKGen:  g.GSKGen,
		OwnerFP: creatorFP,
	}
	if err := dht.PublishGroupMetadata(s.dht, owner, meta); err != nil {
		return Group{}, err
	}

	gsk, err := crypto.GenerateDEK()
	if err != nil {
		return Group{}, err
	}
	if err := s.distributeGSK(g.ID, g.GSKGen, owner, creatorFP, map[string]kem.PublicKey{creatorFP: ownerEnc}, gsk); err != nil {
		return Group{}, err
	}

	logger.WithFields(logrus.Fields{"group_id": g.ID}).Info("group created")
	return g, nil
}

// RotateGSK generates a fresh GSK and redistributes it to exactly the
// given remaining members. A removed member gets no capsule at the new
// generation, so ResolveGSK for them at that generation fails with
// UnknownRecipient; their capsule at the old generation is left in place.
func (s *Store) RotateGSK(groupID string, owner *crypto.SigningKeyPair, ownerFP string, remaining map[string]kem.PublicKey) (uint32, error) {
	g, err := s.GetLocal(groupID)
	if err != nil {
		return 0, err
	}
	if g.Role != RoleOwner {
		return 0, dnaerr.New(dnaerr.KindPermission, "Store.RotateGSK", "only the owner may rotate the group key")
	}

	nextGen := g.GSKGen + 1
	gsk, err := crypto.GenerateDEK()
	if err != nil {
		return 0, err
	}
	if err := s.distributeGSK(groupID, nextGen, owner, ownerFP, remaining, gsk); err != nil {
		return 0, err
	}

	members := make([]dht.GroupMember, 0, len(remaining))
	for fp := range remaining {
		role := dht.GroupRoleMember
		if fp == ownerFP {
			role = dht.GroupRoleOwner
		}
		members = append(members, dht.GroupMember{Fingerprint: fp, Role: role})
	}
	meta := dht.GroupMetadata{GroupID: groupID, Name: g.Name, Members: members, GSKGen: nextGen, OwnerFP: ownerFP}
	if err := dht.PublishGroupMetadata(s.dht, owner, meta); err != nil {
		return 0, err
	}

	if _, err := s.db.Exec(`UPDATE groups SET gsk_gen = ? WHERE group_id = ?`, nextGen, groupID); err != nil {
		return 0, dnaerr.Storage("Store.RotateGSK", err)
	}
	return nextGen, nil
}

// distributeGSK wraps gsk under each member's KEM public key and publishes
// one signed capsule per member at the member+generation-specific DHT key.
func (s *Store) distributeGSK(groupID string, generation uint32, rotator *crypto.SigningKeyPair, rotatorFP string, members map[string]kem.PublicKey, gsk []byte) error {
	for memberFP, pub := range members {
		ciphertext, sharedSecret, err := crypto.Encapsulate(pub)
		if err != nil {
			return err
		}
		wrapped, err := crypto.WrapKey(sharedSecret, gsk)
		if err != nil {
			return err
		}
		capsule := dht.GSKCapsule{
			GroupID:       groupID,
			Generation:    generation,
			MemberFP:      memberFP,
			KEMCiphertext: ciphertext,
			WrappedKey:    wrapped,
		}
		if err := dht.PublishGSKCapsule(s.dht, rotator, rotatorFP, capsule); err != nil {
			return err
		}
	}
	return nil
}

// ResolveGSK fetches and unwraps this identity's capsule for a group's
// current generation.
func (s *Store) ResolveGSK(groupID, memberFP string, generation uint32, self *crypto.KEMKeyPair) ([]byte, error) {
	capsule, ok, err := dht.LookupGSKCapsule(s.dht, groupID, memberFP, generation)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dnaerr.New(dnaerr.KindUnknownRecipient, "Store.ResolveGSK", "no capsule published for this member/generation")
	}

	sharedSecret, err := crypto.Decapsulate(self.Private, capsule.KEMCiphertext)
	if err != nil {
		return nil, err
	}
	return crypto.UnwrapKey(sharedSecret, capsule.WrappedKey)
}

// AcceptInvitation moves a local invited record to member.
func (s *Store) AcceptInvitation(groupID string) error {
	return s.transitionRole(groupID, RoleMember)
}

// Leave moves a local record to former-member from invited, member, or
// owner; a record that is already former-member is rejected.
func (s *Store) Leave(groupID string) error {
	g, err := s.GetLocal(groupID)
	if err != nil {
		return err
	}
	if !CanTransitionRole(g.Role, RoleFormerMember) {
		return dnaerr.New(dnaerr.KindPermission, "Store.Leave", "illegal role transition")
	}
	return s.transitionRole(groupID, RoleFormerMember)
}

func (s *Store) transitionRole(groupID string, to Role) error {
	g, err := s.GetLocal(groupID)
	if err != nil {
		return err
	}
	if !CanTransitionRole(g.Role, to) {
		return dnaerr.New(dnaerr.KindPermission, "Store.transitionRole", "illegal role transition")
	}
	_, err = s.db.Exec(`UPDATE groups SET role = ? WHERE group_id = ?`, string(to), groupID)
	if err != nil {
		return dnaerr.Storage("Store.transitionRole", err)
	}
	return nil
}

func (s *Store) insertLocal(g Group) error {
	_, err := s.db.Exec(
		`INSERT INTO groups (group_id, name, role, gsk_gen, created_at) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Name, string(g.Role), g.GSKGen, g.CreatedAt.Unix(),
	)
	if err != nil {
		return dnaerr.Storage("Store.insertLocal", err)
	}
	return nil
}

// GetLocal returns the locally-stored record for a group.
func (s *Store) GetLocal(groupID string) (Group, error) {
	var (
		g             Group
		role          string
		createdAtUnix int64
	)
	row := s.db.QueryRow(`SELECT group_id, name, role, gsk_gen, created_at FROM groups WHERE group_id = ?`, groupID)
	if err := row.Scan(&g.ID, &g.Name, &role, &g.GSKGen, &createdAtUnix); err != nil {
		if err == sql.ErrNoRows {
			return Group{}, dnaerr.New(dnaerr.KindUnknownRecipient, "Store.GetLocal", "no such group")
		}
		return Group{}, dnaerr.Storage("Store.GetLocal", err)
	}
	g.Role = Role(role)
	g.CreatedAt = time.Unix(createdAtUnix, 0)
	return g, nil
}

// InviteLocal records a locally-known invitation to a group this identity
// does not yet belong to (the remote owner has already published metadata
// naming this fingerprint; this just seeds the local row).
func (s *Store) InviteLocal(groupID, name string, creatorFP string) error {
	return s.insertLocal(Group{ID: groupID, Name: name, CreatorFP: creatorFP, Role: RoleInvited, GSKGen: 0, CreatedAt: time.Now()})
}
