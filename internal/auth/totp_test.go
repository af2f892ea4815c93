package auth

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "Gatekeeper")
	require.NoError(t, err)
	return tm
}

func TestNewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		key := make([]byte, length)
		tm, err := NewTOTPManager(key, "Gatekeeper")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestTOTPManager_GenerateEnrollment(t *testing.T) {
	tm := testTOTPManager(t)

	enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, enrollment.Secret)
	assert.True(t, strings.HasPrefix(enrollment.URI, "otpauth://totp/"))
	assert.Contains(t, enrollment.URI, "Gatekeeper")
	assert.True(t, strings.HasPrefix(enrollment.QRCodeDataURL, "data:image/png;base64,"))
}

func TestTOTPManager_EncryptDecryptRoundTrip(t *testing.T) {
	tm := testTOTPManager(t)

	enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	encrypted, err := tm.EncryptSecret(enrollment.Secret)
	require.NoError(t, err)
	assert.NotEqual(t, enrollment.Secret, encrypted)

	decrypted, err := tm.DecryptSecret(encrypted)
	require.NoError(t, err)
	assert.Equal(t, enrollment.Secret, decrypted)
}

func TestTOTPManager_EncryptSecret_NonDeterministic(t *testing.T) {
	tm := testTOTPManager(t)

	first, err := tm.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	second, err := tm.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	// Fresh nonce every call
	assert.NotEqual(t, first, second)
}

func TestTOTPManager_DecryptSecret_WrongKey(t *testing.T) {
	tm := testTOTPManager(t)
	other := testTOTPManager(t)

	encrypted, err := tm.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	_, err = other.DecryptSecret(encrypted)
	assert.Error(t, err)
}

func TestTOTPManager_DecryptSecret_Malformed(t *testing.T) {
	tm := testTOTPManager(t)

	_, err := tm.DecryptSecret("not base64 at all!!!")
	assert.Error(t, err)

	_, err = tm.DecryptSecret("c2hvcnQ=") // valid base64, shorter than a nonce
	assert.Error(t, err)
}

func TestTOTPManager_ValidateCode(t *testing.T) {
	tm := testTOTPManager(t)

	enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)

	valid, err := tm.ValidateCode(enrollment.Secret, code)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = tm.ValidateCode(enrollment.Secret, "000000")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_ValidateCode_ClockDrift(t *testing.T) {
	tm := testTOTPManager(t)

	enrollment, err := tm.GenerateEnrollment("user@example.com")
	require.NoError(t, err)

	// One step behind stays within the allowed skew
	code, err := totp.GenerateCode(enrollment.Secret, time.Now().Add(-30*time.Second))
	require.NoError(t, err)

	valid, err := tm.ValidateCode(enrollment.Secret, code)
	require.NoError(t, err)
	assert.True(t, valid)
}
