package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berthcare/berthcare/pkg/config"
	"github.com/berthcare/berthcare/pkg/security"
	"github.com/berthcare/berthcare/pkg/types"
)

func testKeySet(t *testing.T, kid string) *security.KeySet {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))

	ks, err := security.LoadKeySet(context.Background(), &config.Config{
		JWTPrivateKey: privPEM,
		JWTKeyID:      kid,
	}, nil)
	require.NoError(t, err)
	return ks
}

func testService(t *testing.T, kid string) *Service {
	t.Helper()
	return NewService(testKeySet(t, kid))
}

func testUser(zone *uuid.UUID) *types.User {
	return &types.User{
		ID:     uuid.New(),
		Email:  "nurse@berthcare.ca",
		Role:   types.RoleCaregiver,
		ZoneID: zone,
	}
}

// TestMintAndVerifyAccess tests the access-token round trip
func TestMintAndVerifyAccess(t *testing.T) {
	svc := testService(t, "primary")
	zone := uuid.New()
	user := testUser(&zone)

	raw, expiresAt, err := svc.MintAccess(user, "device-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(AccessTTL), expiresAt, 5*time.Second)

	claims, err := svc.VerifyAccess(raw)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, types.RoleCaregiver, claims.Role)
	assert.Equal(t, zone.String(), claims.ZoneID)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, user.ID.String(), claims.Subject)
}

// TestMintAccessAdminWithoutZone tests the empty zone claim for admins
func TestMintAccessAdminWithoutZone(t *testing.T) {
	svc := testService(t, "primary")
	admin := &types.User{ID: uuid.New(), Role: types.RoleAdmin}

	raw, _, err := svc.MintAccess(admin, "device-1")
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(raw)
	require.NoError(t, err)
	assert.Empty(t, claims.ZoneID)
}

// TestMintAndVerifyRefresh tests the refresh-token round trip
func TestMintAndVerifyRefresh(t *testing.T) {
	svc := testService(t, "primary")
	user := testUser(nil)

	raw, tokenID, expiresAt, err := svc.MintRefresh(user, "device-2")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tokenID)
	assert.WithinDuration(t, time.Now().Add(RefreshTTL), expiresAt, 5*time.Second)

	claims, err := svc.VerifyRefresh(raw)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, tokenID, claims.TokenID)
	assert.Equal(t, "device-2", claims.DeviceID)
}

// TestVerifyExpired tests expiry detection with a controlled clock
func TestVerifyExpired(t *testing.T) {
	svc := testService(t, "primary")
	raw, _, err := svc.MintAccess(testUser(nil), "device-1")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(AccessTTL + time.Minute) }

	_, err = svc.VerifyAccess(raw)
	assert.ErrorIs(t, err, ErrExpired)
}

// TestVerifyMalformed tests rejection of garbage tokens
func TestVerifyMalformed(t *testing.T) {
	svc := testService(t, "primary")

	for _, raw := range []string{"", "not-a-jwt", "a.b", "a.b.c.d"} {
		_, err := svc.VerifyAccess(raw)
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

// TestVerifyForeignKey tests rejection of tokens signed by a different key
func TestVerifyForeignKey(t *testing.T) {
	// Same kid, different key material: the signature check fails.
	minter := testService(t, "primary")
	verifier := testService(t, "primary")

	raw, _, err := minter.MintAccess(testUser(nil), "device-1")
	require.NoError(t, err)

	_, err = verifier.VerifyAccess(raw)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrExpired)
}

// TestVerifyUnknownKidFallback tests that verification tries every held key
// when the header kid is unknown
func TestVerifyUnknownKidFallback(t *testing.T) {
	ks := testKeySet(t, "rotated-away")
	minter := NewService(ks)

	raw, _, err := minter.MintAccess(testUser(nil), "device-1")
	require.NoError(t, err)

	// A verifier holding the same key under a different kid still verifies
	// via fallback only if the key matches; here it does not exist at all.
	stranger := testService(t, "other")
	_, err = stranger.VerifyAccess(raw)
	assert.ErrorIs(t, err, ErrUnknownKid)

	// The minting service itself knows the kid and verifies directly.
	claims, err := minter.VerifyAccess(raw)
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims.DeviceID)
}

// TestVerifyRejectsTampering tests payload tamper detection
func TestVerifyRejectsTampering(t *testing.T) {
	svc := testService(t, "primary")
	raw, _, err := svc.MintAccess(testUser(nil), "device-1")
	require.NoError(t, err)

	tampered := raw[:len(raw)-6] + "AAAAAA"
	_, err = svc.VerifyAccess(tampered)
	assert.Error(t, err)
}

// TestHash tests the refresh-token digest
func TestHash(t *testing.T) {
	h := Hash("refresh-token-raw")

	// Hex SHA-256 is 64 characters and deterministic.
	assert.Len(t, h, 64)
	assert.Equal(t, h, Hash("refresh-token-raw"))
	assert.NotEqual(t, h, Hash("refresh-token-raw2"))
}
