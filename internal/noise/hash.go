package noise

import "golang.org/x/crypto/blake2b"

// blake2bVar hashes data to exactly n bytes (n <= 64), using BLAKE2b's
// native variable-length output instead of truncating a fixed digest.
func blake2bVar(data []byte, n int) []byte {
	h, err := blake2b.New(n, nil)
	if err != nil {
		// n is always 32 or 64 from this package's call sites, both valid.
		panic(err)
	}
	h.Write(data)
	return h.Sum(nil)
}
