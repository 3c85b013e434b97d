package auth

// DefaultKeyID is assumed when a token header carries no kid.
const DefaultKeyID = "v1"

// KeyStore holds the HS256 session signing secrets by kid.
type KeyStore struct {
	hs256Keys map[string][]byte
}

// NewKeyStore creates a new KeyStore
func NewKeyStore() *KeyStore {
	return &KeyStore{hs256Keys: make(map[string][]byte)}
}

// LoadHS256Key adds an HS256 secret for kid
func (ks *KeyStore) LoadHS256Key(kid string, secret []byte) {
	if kid == "" {
		kid = DefaultKeyID
	}
	ks.hs256Keys[kid] = secret
}

// GetHS256Key retrieves the HS256 secret for kid
func (ks *KeyStore) GetHS256Key(kid string) ([]byte, bool) {
	secret, ok := ks.hs256Keys[kid]
	return secret, ok
}
