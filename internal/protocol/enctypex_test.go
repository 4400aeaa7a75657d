package protocol

import (
	"bytes"
	"testing"
)

var (
	testKey      = []byte(GameKey)
	testValidate = []byte("ABCDEFGH")
)

func TestEnctypexRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAA, 0x00, 0xFF}, 400),
	}
	for _, payload := range payloads {
		enc := EncryptServerList(testKey, testValidate, payload)
		dec, ok := DecryptServerList(testKey, testValidate, enc)
		if !ok {
			t.Fatalf("decrypt rejected its own encoder output (payload %d bytes)", len(payload))
		}
		if !bytes.Equal(dec, payload) {
			t.Fatalf("round trip mismatch for %d-byte payload", len(payload))
		}
	}
}

func TestEnctypexHeaderLayout(t *testing.T) {
	enc := EncryptServerList(testKey, testValidate, []byte("payload"))

	junk := int(enc[0] ^ 0xEC)
	if junk != headerJunkLen {
		t.Fatalf("header junk length = %d, want %d", junk, headerJunkLen)
	}
	chalLen := int(enc[1+junk] ^ 0xEA)
	if chalLen != headerChallengeLen {
		t.Fatalf("header challenge length = %d, want %d", chalLen, headerChallengeLen)
	}
	if len(enc) != 1+junk+1+chalLen+len("payload") {
		t.Fatalf("total length = %d, want header %d + payload %d", len(enc), 1+junk+1+chalLen, len("payload"))
	}
}

func TestEnctypexDeterministic(t *testing.T) {
	payload := []byte("deterministic payload")
	a := EncryptServerList(testKey, testValidate, payload)
	b := EncryptServerList(testKey, testValidate, payload)
	if !bytes.Equal(a, b) {
		t.Fatal("same inputs produced different ciphertexts")
	}
}

func TestEnctypexNonceChangesKeystream(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64)
	a := EncryptServerList(testKey, []byte("AAAAAAAA"), payload)
	b := EncryptServerList(testKey, []byte("BBBBBBBB"), payload)
	if bytes.Equal(a[headerLen:], b[headerLen:]) {
		t.Fatal("different nonces produced identical keystreams")
	}

	// A mismatched nonce on decode must not recover the payload.
	dec, ok := DecryptServerList(testKey, []byte("BBBBBBBB"), a)
	if !ok {
		t.Fatal("decrypt rejected a well-formed header")
	}
	if bytes.Equal(dec, payload) {
		t.Fatal("payload recovered with the wrong nonce")
	}
}

func TestEnctypexCiphertextDiffersFromPlaintext(t *testing.T) {
	payload := bytes.Repeat([]byte{0x00}, 256)
	enc := EncryptServerList(testKey, testValidate, payload)
	if bytes.Equal(enc[headerLen:], payload) {
		t.Fatal("cipher left the payload unchanged")
	}
}

func TestEnctypexDecodeTruncated(t *testing.T) {
	enc := EncryptServerList(testKey, testValidate, []byte("abc"))
	for _, cut := range []int{0, 1, headerLen - 1} {
		if _, ok := DecryptServerList(testKey, testValidate, enc[:cut]); ok {
			t.Errorf("decrypt accepted a %d-byte fragment", cut)
		}
	}
}
