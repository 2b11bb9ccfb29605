package group

import (
	"testing"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnanet/dna/crypto"
	"github.com/dnanet/dna/dht"
	"github.com/dnanet/dna/store"
)

type testMember struct {
	fp      string
	signing *crypto.SigningKeyPair
	enc     *crypto.KEMKeyPair
}

func newTestMember(t *testing.T, fp string) testMember {
	t.Helper()
	signing, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	enc, err := crypto.GenerateKEMKeyPair()
	require.NoError(t, err)
	return testMember{fp: fp, signing: signing, enc: enc}
}

func newTestGroupStore(t *testing.T, resolver dht.AuthorKeyResolver) *Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewStore(s, dht.NewStore(resolver))
}

func resolverFor(members ...testMember) dht.AuthorKeyResolver {
	index := make(map[string]sign.PublicKey, len(members))
	for _, m := range members {
		index[m.fp] = m.signing.Public
	}
	return func(fingerprint string) (sign.PublicKey, error) {
		pub, ok := index[fingerprint]
		if !ok {
			return nil, assertErr("unknown fingerprint")
		}
		return pub, nil
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestCreateGroupPublishesMetadataAndOwnerCapsule(t *testing.T) {
	owner := newTestMember(t, "owner-fp")
	gs := newTestGroupStore(t, resolverFor(owner))

	g, err := gs.CreateGroup("book club", owner.fp, owner.signing, owner.enc.Public)
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, g.Role)
	assert.Equal(t, uint32(1), g.GSKGen)

	gsk, err := gs.ResolveGSK(g.ID, owner.fp, 1, owner.enc)
	require.NoError(t, err)
	assert.Len(t, gsk, 32)
}

func TestRotateGSKRevokesRemovedMember(t *testing.T) {
	owner := newTestMember(t, "owner-fp")
	memberB := newTestMember(t, "member-b-fp")
	memberC := newTestMember(t, "member-c-fp")
	gs := newTestGroupStore(t, resolverFor(owner, memberB, memberC))

	g, err := gs.CreateGroup("book club", owner.fp, owner.signing, owner.enc.Public)
	require.NoError(t, err)

	remaining := map[string]kem.PublicKey{
		owner.fp:  owner.enc.Public,
		memberB.fp: memberB.enc.Public,
	}
	nextGen, err := gs.RotateGSK(g.ID, owner.signing, owner.fp, remaining)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), nextGen)

	gskB, err := gs.ResolveGSK(g.ID, memberB.fp, nextGen, memberB.enc)
	require.NoError(t, err)
	assert.Len(t, gskB, 32)

	_, err = gs.ResolveGSK(g.ID, memberC.fp, nextGen, memberC.enc)
	require.Error(t, err)
}

func TestRoleTransitions(t *testing.T) {
	assert.True(t, CanTransitionRole(RoleInvited, RoleMember))
	assert.True(t, CanTransitionRole(RoleMember, RoleFormerMember))
	assert.True(t, CanTransitionRole(RoleOwner, RoleFormerMember))
	assert.False(t, CanTransitionRole(RoleFormerMember, RoleMember))
	assert.False(t, CanTransitionRole(RoleInvited, RoleOwner))
}

func TestAcceptInvitationAndLeave(t *testing.T) {
	owner := newTestMember(t, "owner-fp")
	member := newTestMember(t, "member-fp")
	gs := newTestGroupStore(t, resolverFor(owner, member))

	require.NoError(t, gs.InviteLocal("g1", "book club", owner.fp))
	require.NoError(t, gs.AcceptInvitation("g1"))

	g, err := gs.GetLocal("g1")
	require.NoError(t, err)
	assert.Equal(t, RoleMember, g.Role)

	require.NoError(t, gs.Leave("g1"))
	g, err = gs.GetLocal("g1")
	require.NoError(t, err)
	assert.Equal(t, RoleFormerMember, g.Role)
}

func TestOnlyOwnerMayRotate(t *testing.T) {
	owner := newTestMember(t, "owner-fp")
	member := newTestMember(t, "member-fp")
	gs := newTestGroupStore(t, resolverFor(owner, member))

	require.NoError(t, gs.InviteLocal("g1", "book club", owner.fp))
	require.NoError(t, gs.AcceptInvitation("g1"))

	_, err := gs.RotateGSK("g1", member.signing, member.fp, map[string]kem.PublicKey{member.fp: member.enc.Public})
	require.Error(t, err)
}
