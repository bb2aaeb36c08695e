package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/berthcare/berthcare/pkg/config"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/security"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/token"
	"github.com/berthcare/berthcare/pkg/types"
)

// TestCheckPasswordStrength tests the registration password policy
func TestCheckPasswordStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		ok       bool
	}{
		{"meets policy", "SecurePass1", true},
		{"exactly eight chars", "Abcdef1g", true},
		{"too short", "Abc1efg", false},
		{"no upper case", "securepass1", false},
		{"no lower case", "SECUREPASS1", false},
		{"no digit", "SecurePass", false},
		{"empty", "", false},
		{"symbols do not substitute for a digit", "Secure!Pass", false},
		{"unicode letters count", "Sécurité1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkPasswordStrength(tt.password)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errs.IsCode(err, errs.CodeWeakPassword))
			}
		})
	}
}

// TestValidEmail tests the structural email check
func TestValidEmail(t *testing.T) {
	tests := []struct {
		email string
		ok    bool
	}{
		{"nurse@berthcare.ca", true},
		{"first.last@sub.example.com", true},
		{"a@b.co", true},
		{"", false},
		{"no-at-sign", false},
		{"@missing-local.ca", false},
		{"missing-domain@", false},
		{"two@@ats.ca", false},
		{"no-dot@domain", false},
		{"dot-at-end@domain.", false},
		{"dot-at-start@.domain", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.ok, validEmail(tt.email))
		})
	}
}

// TestDecoyHash tests that the timing decoy is a real bcrypt digest at the
// production cost, so the unknown-email path costs one genuine verification
func TestDecoyHash(t *testing.T) {
	cost, err := bcrypt.Cost([]byte(decoyHash))
	assert.NoError(t, err)
	assert.Equal(t, 12, cost)

	// No plausible password matches it.
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(decoyHash), []byte("password")))
}

// TestRegisterRequiresAdmin tests that account provisioning is closed to
// everyone but admins, before any input validation runs
func TestRegisterRequiresAdmin(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, nil, nil)

	for _, role := range []types.Role{types.RoleCaregiver, types.RoleCoordinator} {
		p := types.Principal{Role: role, UserID: uuid.New(), ZoneID: uuid.New()}
		_, _, err := svc.Register(context.Background(), p, RegisterInput{
			Email:    "new@berthcare.ca",
			Password: "SecurePass1",
			Role:     types.RoleCaregiver,
		})
		assert.True(t, errs.IsCode(err, errs.CodeUnauthorized), "role %s", role)
	}

	// An anonymous principal is just an empty role.
	_, _, err := svc.Register(context.Background(), types.Principal{}, RegisterInput{})
	assert.True(t, errs.IsCode(err, errs.CodeUnauthorized))
}

func testTokens(t *testing.T) *token.Service {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
	ks, err := security.LoadKeySet(context.Background(), &config.Config{
		JWTPrivateKey: privPEM,
	}, nil)
	require.NoError(t, err)
	return token.NewService(ks)
}

// TestRefreshDeletesExpiredRow tests that an expired refresh token presented
// for exchange is removed from the table, not just rejected
func TestRefreshDeletesExpiredRow(t *testing.T) {
	tokens := testTokens(t)
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := &storage.DB{DB: sqlx.NewDb(mockDB, "sqlmock")}

	svc := &Service{
		refresh: storage.NewRefreshTokenStore(db),
		tokens:  tokens,
		now:     time.Now,
	}

	zone := uuid.New()
	user := &types.User{ID: uuid.New(), Email: "nurse@berthcare.ca", Role: types.RoleCaregiver, ZoneID: &zone}
	raw, tokenID, _, err := tokens.MintRefresh(user, "device-1")
	require.NoError(t, err)
	hash := token.Hash(raw)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "token_hash", "device_id", "expires_at", "revoked_at", "created_at",
	}).AddRow(tokenID, user.ID, hash, "device-1",
		time.Now().Add(-time.Hour), nil, time.Now().Add(-48*time.Hour))

	mock.ExpectQuery("SELECT (.+) FROM refresh_tokens").
		WithArgs(hash).
		WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM refresh_tokens").
		WithArgs(hash).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = svc.Refresh(context.Background(), raw)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidToken))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSweepExpired tests the periodic cleanup behind the housekeeping loop
func TestSweepExpired(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := &storage.DB{DB: sqlx.NewDb(mockDB, "sqlmock")}

	svc := &Service{refresh: storage.NewRefreshTokenStore(db), now: time.Now}

	mock.ExpectExec("DELETE FROM refresh_tokens").
		WillReturnResult(sqlmock.NewResult(0, 3))
	svc.sweepExpired(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}
