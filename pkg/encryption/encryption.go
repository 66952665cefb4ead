// Package encryption encrypts and decrypts non-public media with age,
// using a local identity file. Encrypting a path produces a sibling
// artifact named path + ".age"; decrypting reverses it.
package encryption

import (
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// Suffix is the extension of encrypted artifacts.
const Suffix = ".age"

// ErrEncryption wraps every failure of the encryption layer.
var ErrEncryption = errors.New("encryption error")

// Encryptor holds the identities parsed from an age identity file.
// The identities decrypt; their derived recipients encrypt.
type Encryptor struct {
	identityFile string
	identities   []age.Identity
	recipients   []age.Recipient
}

// New parses the identity file and derives the encryption recipients.
func New(identityFile string) (*Encryptor, error) {
	f, err := os.Open(identityFile)
	if err != nil {
		return nil, fmt.Errorf("%w: open identity file: %v", ErrEncryption, err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parse identity file %q: %v", ErrEncryption, identityFile, err)
	}

	var recipients []age.Recipient
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			recipients = append(recipients, x.Recipient())
		}
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: identity file %q holds no usable identities", ErrEncryption, identityFile)
	}

	return &Encryptor{
		identityFile: identityFile,
		identities:   identities,
		recipients:   recipients,
	}, nil
}

// Encrypt writes an encrypted copy of path to path + ".age".
// The cleartext input file is left in place.
func (e *Encryptor) Encrypt(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrEncryption, path, err)
	}
	defer in.Close()

	out, err := os.Create(path + Suffix)
	if err != nil {
		return fmt.Errorf("%w: create %q: %v", ErrEncryption, path+Suffix, err)
	}
	defer out.Close()

	w, err := age.Encrypt(out, e.recipients...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("%w: encrypt %q: %v", ErrEncryption, path, err)
	}
	// Close flushes the final chunk; without it the artifact is truncated.
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: finish %q: %v", ErrEncryption, path+Suffix, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %q: %v", ErrEncryption, path+Suffix, err)
	}
	return nil
}

// Decrypt reads path + ".age" and writes the cleartext to path.
// Note the argument names the file to be produced, not the input.
func (e *Encryptor) Decrypt(path string) error {
	in, err := os.Open(path + Suffix)
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrEncryption, path+Suffix, err)
	}
	defer in.Close()

	r, err := age.Decrypt(in, e.identities...)
	if err != nil {
		return fmt.Errorf("%w: decrypt %q: %v", ErrEncryption, path+Suffix, err)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %q: %v", ErrEncryption, path, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrEncryption, path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %q: %v", ErrEncryption, path, err)
	}
	return nil
}
