/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package token

import (
	"testing"
	"time"

	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/kentakayama/consent-over-http/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedConsent(t *testing.T, s *signer.Signer, scope ...string) model.SignedConsent {
	t.Helper()
	id, err := model.NewConsentID(nil)
	require.Nil(t, err)
	sc, err := model.NewScope(scope...)
	require.Nil(t, err)
	now := model.Timestamp(time.Now())
	claims := model.Claims{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		Scope:     sc,
	}
	sig, digest, err := s.Sign(claims)
	require.Nil(t, err)
	return model.SignedConsent{Claims: claims, Signature: sig, Digest: digest}
}

func TestCodec_RoundTrip(t *testing.T) {
	s, err := signer.Generate(nil)
	require.Nil(t, err)
	codec := Codec{KeyID: s.KeyID()}

	for _, scope := range [][]string{
		{"screenshot"},
		{"shell", "camera"},
		{"shell", "screenshot", "filesystem", "location", "camera"},
	} {
		c := signedConsent(t, s, scope...)

		encoded, err := codec.Encode(c)
		require.Nil(t, err)
		decoded, err := Decode(encoded)
		require.Nil(t, err)
		assert.Equal(t, c, decoded.Consent)
		assert.Equal(t, s.KeyID(), decoded.KeyID)
		assert.True(t, s.Verify(decoded.Consent.Claims, decoded.Consent.Signature))

		text, err := codec.EncodeString(c)
		require.Nil(t, err)
		fromText, err := DecodeString(text)
		require.Nil(t, err)
		assert.Equal(t, c, fromText.Consent)
	}
}

func TestCodec_WithoutKeyID(t *testing.T) {
	s, err := signer.Generate(nil)
	require.Nil(t, err)
	c := signedConsent(t, s, "camera")

	encoded, err := Codec{}.Encode(c)
	require.Nil(t, err)
	decoded, err := Decode(encoded)
	require.Nil(t, err)
	assert.Nil(t, decoded.KeyID)
	assert.Equal(t, c, decoded.Consent)
}

func TestCodec_EncodeRejectsUnsigned(t *testing.T) {
	s, err := signer.Generate(nil)
	require.Nil(t, err)
	c := signedConsent(t, s, "camera")
	c.Signature = nil

	_, err = Codec{}.Encode(c)
	assert.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestDecode_Malformed(t *testing.T) {
	s, err := signer.Generate(nil)
	require.Nil(t, err)
	encoded, err := Codec{}.Encode(signedConsent(t, s, "shell"))
	require.Nil(t, err)

	for name, data := range map[string][]byte{
		"empty":     nil,
		"not cbor":  []byte("hello"),
		"untagged":  encoded[1:],
		"truncated": encoded[:len(encoded)-10],
		"cbor map":  {0xa1, 0x01, 0x02},
	} {
		_, err := Decode(data)
		assert.ErrorIs(t, err, domain.ErrMalformedToken, name)
	}

	_, err = DecodeString("!!not base64!!")
	assert.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestDecode_MissingClaims(t *testing.T) {
	// a well formed envelope whose payload lacks required claims
	payload := []byte{0xa1, 0x62, 0x69, 0x64, 0x61, 0x78} // {"id": "x"}
	data, err := signer.Envelope(payload, nil, []byte{0x01}).MarshalCBOR()
	require.Nil(t, err)

	_, err = Decode(data)
	assert.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestInspect(t *testing.T) {
	s, err := signer.Generate(nil)
	require.Nil(t, err)
	c := signedConsent(t, s, "screenshot")
	encoded, err := Codec{KeyID: s.KeyID()}.Encode(c)
	require.Nil(t, err)

	out, err := Inspect(encoded)
	require.Nil(t, err)
	assert.Contains(t, out, c.Claims.ID)
	assert.Contains(t, out, `"screenshot"`)
	assert.Contains(t, out, `"tag": 18`)
}
