// Package secure keeps key material in memguard enclaves.
//
// Keys handed to NewKeyBuffer are copied into an encrypted, mlock'd enclave
// and the caller's slice is wiped. Plaintext key bytes exist only for the
// duration of a Use callback:
//
//	kb, err := secure.NewKeyBuffer(raw) // raw is zeroed
//	if err != nil {
//	    return err
//	}
//	defer kb.Destroy()
//
//	err = kb.Use(func(key []byte) error {
//	    block, err := aes.NewCipher(key)
//	    ...
//	})
//
// Callers must not retain the slice passed to the callback.
//
// On Linux, mlock is subject to RLIMIT_MEMLOCK. When locking fails memguard
// falls back to ordinary memory and the enclave is still encrypted at rest.
package secure
