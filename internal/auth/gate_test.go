package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quill/printhold/internal/core"
	"github.com/quill/printhold/internal/db"
)

func testGate() *Gate {
	return NewGate([]string{"root"}, []string{"print-admins"})
}

func ownedJob(owner string) *db.Job {
	return &db.Job{JobID: 42, Owner: &owner, ClaimState: db.ClaimOwned, SpoolerState: db.SpoolHeld}
}

func unclaimedJob() *db.Job {
	return &db.Job{JobID: 42, ClaimState: db.ClaimUnclaimed, SpoolerState: db.SpoolHeld}
}

func TestOwnerControlsOwnJob(t *testing.T) {
	g := testGate()
	alice := SessionPrincipal("alice", nil)
	job := ownedJob("alice")

	for _, op := range []Operation{OpHold, OpRelease, OpCancel} {
		assert.NoError(t, g.Authorize(alice, job, op), string(op))
	}
}

func TestNonOwnerIsForbidden(t *testing.T) {
	g := testGate()
	bob := SessionPrincipal("bob", nil)
	job := ownedJob("alice")

	for _, op := range []Operation{OpHold, OpRelease, OpCancel} {
		assert.ErrorIs(t, g.Authorize(bob, job, op), core.ErrForbidden, string(op))
	}
}

func TestAdminControlsAnyJob(t *testing.T) {
	g := testGate()
	job := ownedJob("alice")

	root := SessionPrincipal("root", nil)
	assert.NoError(t, g.Authorize(root, job, OpCancel))

	groupAdmin := SessionPrincipal("carol", []string{"print-admins"})
	assert.NoError(t, g.Authorize(groupAdmin, job, OpCancel))

	adminKey := &Principal{Kind: KindAPIKey, Account: "svc", Scopes: []string{ScopeAdmin}}
	assert.NoError(t, g.Authorize(adminKey, job, OpCancel))
}

func TestKioskMayReleaseAndCancelOnly(t *testing.T) {
	g := testGate()
	kiosk := &Principal{Kind: KindKiosk, Account: "lobby", KioskID: 1}
	job := ownedJob("alice")

	assert.NoError(t, g.Authorize(kiosk, job, OpRelease))
	assert.NoError(t, g.Authorize(kiosk, job, OpCancel))
	assert.ErrorIs(t, g.Authorize(kiosk, job, OpHold), core.ErrForbidden)
	assert.ErrorIs(t, g.Authorize(kiosk, unclaimedJob(), OpClaim), core.ErrForbidden)
}

func TestKioskIsNeverAdmin(t *testing.T) {
	// Even a kiosk named after an admin account carries no admin authority.
	g := testGate()
	kiosk := &Principal{Kind: KindKiosk, Account: "root", KioskID: 1}
	assert.False(t, g.IsAdmin(kiosk))
}

func TestClaimOpenToAuthenticatedUsers(t *testing.T) {
	g := testGate()
	job := unclaimedJob()

	assert.NoError(t, g.Authorize(SessionPrincipal("alice", nil), job, OpClaim))

	writeKey := &Principal{Kind: KindAPIKey, Account: "alice", Scopes: []string{ScopeWrite}}
	assert.NoError(t, g.Authorize(writeKey, job, OpClaim))

	readKey := &Principal{Kind: KindAPIKey, Account: "alice", Scopes: []string{ScopeRead}}
	assert.ErrorIs(t, g.Authorize(readKey, job, OpClaim), core.ErrForbidden)
}

func TestReadScopeKeyCannotControl(t *testing.T) {
	g := testGate()
	readKey := &Principal{Kind: KindAPIKey, Account: "alice", Scopes: []string{ScopeRead}}
	job := ownedJob("alice")

	assert.ErrorIs(t, g.Authorize(readKey, job, OpRelease), core.ErrForbidden)
}

func TestWriteScopeKeyControlsOwnerJobs(t *testing.T) {
	g := testGate()
	writeKey := &Principal{Kind: KindAPIKey, Account: "alice", Scopes: []string{ScopeWrite}}

	assert.NoError(t, g.Authorize(writeKey, ownedJob("alice"), OpRelease))
	assert.ErrorIs(t, g.Authorize(writeKey, ownedJob("bob"), OpRelease), core.ErrForbidden)
}

func TestOwnerlessKeySeesNothing(t *testing.T) {
	g := testGate()
	key := &Principal{Kind: KindAPIKey, Account: "", Scopes: []string{ScopeRead, ScopeWrite}}

	assert.False(t, g.CanView(key, ownedJob("alice")))
	assert.ErrorIs(t, g.Authorize(key, ownedJob("alice"), OpCancel), core.ErrForbidden)
}

func TestCanView(t *testing.T) {
	g := testGate()

	assert.True(t, g.CanView(SessionPrincipal("alice", nil), ownedJob("alice")))
	assert.False(t, g.CanView(SessionPrincipal("bob", nil), ownedJob("alice")))
	assert.True(t, g.CanView(SessionPrincipal("root", nil), ownedJob("alice")))
	assert.True(t, g.CanView(&Principal{Kind: KindKiosk, Account: "lobby"}, ownedJob("alice")))
}
