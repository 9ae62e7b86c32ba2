package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapLedger(t *testing.T) {
	h := newHarness(t)

	h.as(adminID)
	h.mustTx(func() error { return h.contract.BootstrapLedger(h.ctx) })

	im := NewIdentityManager(h.ctx)
	isAdmin, err := im.IsAdmin(adminID)
	require.NoError(t, err)
	assert.True(t, isAdmin, "the bootstrapping identity becomes the first admin")

	info, err := im.GetIdentityInfo(adminID)
	require.NoError(t, err)
	assert.Equal(t, "platform-admin", info.ShortName, "alias derives from the certificate CN")
	assert.True(t, info.IsAdmin)

	config, err := h.contract.GetPlatformConfig(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), config.FeePercent)
	assert.Equal(t, adminID, config.PlatformWallet)

	// Re-running bootstrap must fail once an admin exists.
	err = h.tx(func() error { return h.contract.BootstrapLedger(h.ctx) })
	assert.ErrorContains(t, err, "already has admins")
}

func TestRegisterIdentityRequiresAdminAfterBootstrap(t *testing.T) {
	h := newHarness(t)
	h.as(adminID)
	h.mustTx(func() error { return h.contract.BootstrapLedger(h.ctx) })

	h.as(aliceID)
	err := h.tx(func() error { return h.contract.RegisterIdentity(h.ctx, aliceID, "alice") })
	assert.ErrorContains(t, err, "not authorized to register identities")

	h.as(adminID)
	h.mustTx(func() error { return h.contract.RegisterIdentity(h.ctx, aliceID, "alice") })

	im := NewIdentityManager(h.ctx)
	resolved, err := im.ResolveIdentity("alice")
	require.NoError(t, err)
	assert.Equal(t, aliceID, resolved)
}

func TestRegisterIdentityValidation(t *testing.T) {
	h := newHarness(t)
	h.as(adminID)
	h.mustTx(func() error { return h.contract.BootstrapLedger(h.ctx) })
	h.mustTx(func() error { return h.contract.RegisterIdentity(h.ctx, aliceID, "alice") })

	err := h.tx(func() error { return h.contract.RegisterIdentity(h.ctx, "not-an-x509-id", "mallory") })
	assert.ErrorContains(t, err, "not a valid X.509 ID format")

	err = h.tx(func() error { return h.contract.RegisterIdentity(h.ctx, bobID, "") })
	assert.ErrorContains(t, err, "shortName cannot be empty")

	// An alias can only point at one identity.
	err = h.tx(func() error { return h.contract.RegisterIdentity(h.ctx, bobID, "alice") })
	assert.ErrorContains(t, err, "already in use")
}

func TestAssignAndRemoveRole(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	has, err := h.contract.HasRole(h.ctx, "alice", "farmer")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = h.contract.HasRole(h.ctx, "alice", "retailer")
	require.NoError(t, err)
	assert.False(t, has)

	// Unknown identities simply have no roles.
	has, err = h.contract.HasRole(h.ctx, "nobody", "farmer")
	require.NoError(t, err)
	assert.False(t, has)

	h.as(adminID)
	err = h.tx(func() error { return h.contract.AssignRoleToIdentity(h.ctx, "alice", "astronaut") })
	assert.ErrorContains(t, err, "invalid role")

	// Assigning an already held role is a no-op, not an error.
	h.mustTx(func() error { return h.contract.AssignRoleToIdentity(h.ctx, "alice", "farmer") })

	h.mustTx(func() error { return h.contract.RemoveRoleFromIdentity(h.ctx, "alice", "farmer") })
	has, err = h.contract.HasRole(h.ctx, "alice", "farmer")
	require.NoError(t, err)
	assert.False(t, has)

	// Role management is admin-only.
	h.as(bobID)
	err = h.tx(func() error { return h.contract.AssignRoleToIdentity(h.ctx, "alice", "farmer") })
	assert.ErrorContains(t, err, "not authorized to assign roles")
	err = h.tx(func() error { return h.contract.RemoveRoleFromIdentity(h.ctx, "cara", "retailer") })
	assert.ErrorContains(t, err, "not authorized to remove roles")
}

func TestAssignRoleRequiresRegisteredIdentity(t *testing.T) {
	h := newHarness(t)
	h.as(adminID)
	h.mustTx(func() error { return h.contract.BootstrapLedger(h.ctx) })

	err := h.tx(func() error { return h.contract.AssignRoleToIdentity(h.ctx, bobID, "distributor") })
	assert.ErrorContains(t, err, "must be registered first")
}

func TestMakeAndRemoveAdmin(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	im := NewIdentityManager(h.ctx)

	h.as(bobID)
	err := h.tx(func() error { return h.contract.MakeIdentityAdmin(h.ctx, "bob") })
	assert.ErrorContains(t, err, "not authorized to make others admin")

	h.as(adminID)
	h.mustTx(func() error { return h.contract.MakeIdentityAdmin(h.ctx, "bob") })
	isAdmin, err := im.IsAdmin(bobID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	// Admins cannot demote themselves.
	h.as(bobID)
	err = h.tx(func() error { return h.contract.RemoveIdentityAdmin(h.ctx, "bob") })
	assert.ErrorContains(t, err, "cannot remove their own admin status")

	h.as(adminID)
	h.mustTx(func() error { return h.contract.RemoveIdentityAdmin(h.ctx, "bob") })
	isAdmin, err = im.IsAdmin(bobID)
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestGetIdentityDetailsAccess(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	// Identity owners can read their own record.
	h.as(aliceID)
	info, err := h.contract.GetIdentityDetails(h.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, aliceID, info.FullID)
	assert.Contains(t, info.Roles, "farmer")

	// But not anyone else's.
	_, err = h.contract.GetIdentityDetails(h.ctx, "bob")
	assert.ErrorContains(t, err, "only admins or the identity owner")

	h.as(adminID)
	info, err = h.contract.GetIdentityDetails(h.ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bobID, info.FullID)
}

func TestGetAllIdentities(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	h.as(caraID)
	_, err := h.contract.GetAllIdentities(h.ctx)
	assert.ErrorContains(t, err, "not authorized to list all identities")

	h.as(adminID)
	identities, err := h.contract.GetAllIdentities(h.ctx)
	require.NoError(t, err)
	// Bootstrap admin plus the four registered participants.
	assert.Len(t, identities, 5)
}

func TestAdminBypassesRoleRequirement(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	// The admin holds no inspector role but passes the role gate.
	productID := h.registerTestProduct("Roma Tomatoes")
	h.as(adminID)
	h.mustTx(func() error { return h.contract.AddQualityCheck(h.ctx, productID, "A", "", "spot check") })

	checks, err := h.contract.GetQualityChecks(h.ctx, productID)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, adminID, checks[0].Inspector)
}
