package jwtx

import (
	"errors"
)

var ErrNoKey = errors.New("jwtx: key not found")

// KeySet is an immutable snapshot of verification keys indexed by kid.
// Reloading never mutates a KeySet; a fresh one is built and swapped in by
// whoever owns it (see KeyResolver).
type KeySet struct {
	jks     JWKS
	pub     map[string]any // kid: *rsa.PublicKey | *ecdsa.PublicKey
	current string
}

// NewKeySet parses every key of the JWKS. Keys that cannot be used for
// signature verification (encryption keys, unknown key types) are skipped;
// a set with no usable key is an error.
func NewKeySet(jwks JWKS) (*KeySet, error) {
	ks := &KeySet{pub: make(map[string]any, len(jwks.Keys))}

	var firstErr error
	for _, j := range jwks.Keys {
		if j.Use != "" && j.Use != "sig" {
			continue
		}
		key, err := j.PublicKey()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, dup := ks.pub[j.Kid]; dup {
			continue
		}
		ks.pub[j.Kid] = key
		ks.jks.Keys = append(ks.jks.Keys, j)
		if ks.current == "" && len(ks.jks.Keys) == 1 {
			ks.current = j.Kid
		}
	}

	if len(ks.pub) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, errors.New("jwtx: key set contains no signing keys")
	}
	return ks, nil
}

// Get returns the public key for the given kid.
func (k *KeySet) Get(kid string) (any, error) {
	if k == nil {
		return nil, ErrNoKey
	}
	if pk, ok := k.pub[kid]; ok {
		return pk, nil
	}
	return nil, ErrNoKey
}

// Current returns the kid of the first key of the published list. Tokens
// without a kid header are verified against it.
func (k *KeySet) Current() string {
	if k == nil {
		return ""
	}
	return k.current
}

// Kids lists the key ids in publication order.
func (k *KeySet) Kids() []string {
	if k == nil {
		return nil
	}
	kids := make([]string, 0, len(k.jks.Keys))
	for _, j := range k.jks.Keys {
		kids = append(kids, j.Kid)
	}
	return kids
}

// Len reports how many usable keys the set holds.
func (k *KeySet) Len() int {
	if k == nil {
		return 0
	}
	return len(k.pub)
}
