package auth_test

import (
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"ms-gatekeeper/internal/auth"
)

func TestExtractTokenFromRequest(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "/gatekeeper/checkin", nil)

	_, err := auth.ExtractTokenFromRequest(req)
	assert.Error(t, err, "missing header must be rejected")

	req.Header.Set("Authorization", "Token abc")
	_, err = auth.ExtractTokenFromRequest(req)
	assert.Error(t, err, "non-bearer scheme must be rejected")

	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	token, err := auth.ExtractTokenFromRequest(req)
	assert.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestExtractGateUserID(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "scanner-7"})
	signed, err := token.SignedString([]byte("test-secret"))
	assert.NoError(t, err)

	sub, err := auth.ExtractGateUserID(signed)
	assert.NoError(t, err)
	assert.Equal(t, "scanner-7", sub)

	_, err = auth.ExtractGateUserID("")
	assert.Error(t, err)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"aud": "gates"})
	signed, err = noSub.SignedString([]byte("test-secret"))
	assert.NoError(t, err)
	_, err = auth.ExtractGateUserID(signed)
	assert.Error(t, err)
}
