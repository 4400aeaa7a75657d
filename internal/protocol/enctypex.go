package protocol

// The "enctypex" cipher is the legacy GameSpy server-list encryption: a
// card-deck stream cipher keyed from the 6-byte title handoff key, the
// client's 8-byte validate nonce, and a server challenge carried in the
// response header. It is reproduced here bit-exactly for interoperability
// with the original game client; see the package tests for the layout the
// client's decoder expects.
//
// Response layout:
//
//	[0]                 headerJunkLen ^ 0xEC
//	[1..junk]           ignored filler
//	[junk+1]            challengeLen ^ 0xEA
//	[...challenge]      server challenge, mixed into the key schedule
//	[rest]              cipher stream over the payload

const (
	headerJunkLen      = 7
	headerChallengeLen = 14
	headerLen          = 1 + headerJunkLen + 1 + headerChallengeLen

	junkLenMask      byte = 0xEC
	challengeLenMask byte = 0xEA
)

// enctypexState is the cipher state: a 256-byte card deck plus the five
// rotor registers.
type enctypexState struct {
	cards [256]byte

	rotor      byte
	ratchet    byte
	avalanche  byte
	lastPlain  byte
	lastCipher byte
}

// EncryptServerList wraps an encoded server-list blob for the wire. The
// output is deterministic over (validate, payload): the header junk and
// challenge bytes are fixed, so the keystream depends only on the handoff
// key and the client nonce. gamekey must be the 6-byte title key; validate
// is the 8-byte client nonce.
func EncryptServerList(gamekey, validate []byte, payload []byte) []byte {
	out := make([]byte, headerLen+len(payload))
	out[0] = headerJunkLen ^ junkLenMask
	out[1+headerJunkLen] = headerChallengeLen ^ challengeLenMask

	challenge := out[1+headerJunkLen+1 : headerLen]
	st := newEnctypexState(gamekey, validate, challenge)

	copy(out[headerLen:], payload)
	for i := headerLen; i < len(out); i++ {
		out[i] = st.encryptByte(out[i])
	}
	return out
}

// DecryptServerList reverses EncryptServerList. It accepts any header the
// encoder family produces (variable junk and challenge lengths), which is
// what the game client's decoder does.
func DecryptServerList(gamekey, validate []byte, data []byte) ([]byte, bool) {
	if len(data) < 1 {
		return nil, false
	}
	junk := int(data[0] ^ junkLenMask)
	challengeAt := 1 + junk + 1
	if len(data) < challengeAt {
		return nil, false
	}
	chalLen := int(data[challengeAt-1] ^ challengeLenMask)
	start := challengeAt + chalLen
	if len(data) < start {
		return nil, false
	}

	st := newEnctypexState(gamekey, validate, data[challengeAt:start])

	out := make([]byte, len(data)-start)
	for i := range out {
		out[i] = st.decryptByte(data[start+i])
	}
	return out, true
}

// newEnctypexState mixes the server challenge into a copy of the client
// nonce, then shuffles the deck from the result.
func newEnctypexState(gamekey, validate, challenge []byte) *enctypexState {
	var id [8]byte
	copy(id[:], validate)
	for i := 0; i < len(challenge); i++ {
		id[(int(gamekey[i%len(gamekey)])*i)&7] ^= id[i&7] ^ challenge[i]
	}

	st := &enctypexState{}
	st.schedule(id[:])
	return st
}

// schedule shuffles the deck from an 8-byte id and seeds the registers.
func (st *enctypexState) schedule(id []byte) {
	for i := 0; i < 256; i++ {
		st.cards[i] = byte(i)
	}

	var rsum byte
	keypos := 0
	for i := 255; i >= 0; i-- {
		j := st.keyrand(i, id, &rsum, &keypos)
		st.cards[i], st.cards[j] = st.cards[j], st.cards[i]
	}

	st.rotor = st.cards[1]
	st.ratchet = st.cards[3]
	st.avalanche = st.cards[5]
	st.lastPlain = st.cards[7]
	st.lastCipher = st.cards[rsum]
}

// keyrand draws a deck index in [0, limit] from the id stream. The retry
// limiter caps the rejection loop the same way the reference does.
func (st *enctypexState) keyrand(limit int, id []byte, rsum *byte, keypos *int) int {
	if limit == 0 {
		return 0
	}

	mask := 1
	for mask < limit {
		mask = mask<<1 + 1
	}

	retries := 0
	for {
		*rsum = st.cards[*rsum] + id[*keypos]
		*keypos++
		if *keypos >= len(id) {
			*keypos = 0
			*rsum += byte(len(id))
		}
		u := mask & int(*rsum)
		retries++
		if retries > 11 {
			u %= limit
		}
		if u <= limit {
			return u
		}
	}
}

// shuffle advances the deck one step. Shared by both cipher directions.
func (st *enctypexState) shuffle() byte {
	st.ratchet += st.cards[st.rotor]
	st.rotor++
	swap := st.cards[st.lastCipher]
	st.cards[st.lastCipher] = st.cards[st.ratchet]
	st.cards[st.ratchet] = st.cards[st.lastPlain]
	st.cards[st.lastPlain] = st.cards[st.rotor]
	st.cards[st.rotor] = swap
	st.avalanche += st.cards[swap]
	return swap
}

func (st *enctypexState) encryptByte(b byte) byte {
	st.shuffle()
	st.lastCipher = b ^
		st.cards[st.cards[st.ratchet]+st.cards[st.rotor]] ^
		st.cards[st.cards[st.cards[st.lastPlain]+st.cards[st.lastCipher]+st.cards[st.avalanche]]]
	st.lastPlain = b
	return st.lastCipher
}

func (st *enctypexState) decryptByte(b byte) byte {
	st.shuffle()
	st.lastPlain = b ^
		st.cards[st.cards[st.ratchet]+st.cards[st.rotor]] ^
		st.cards[st.cards[st.cards[st.lastPlain]+st.cards[st.lastCipher]+st.cards[st.avalanche]]]
	st.lastCipher = b
	return st.lastPlain
}
