/*
Package envelope derives the vault key from a master password and wraps
arbitrary plaintext in an authenticated, encrypted token.


Key Derivation

The key is derived with PBKDF2-HMAC-SHA256, 100000 iterations and a 32 byte
output. The salt is sixteen zero bytes.

The fixed salt is a known weakness: two vaults protected by the same master
password share the same key, and nothing prevents an attacker from
precomputing keys for a dictionary of common passwords once and reusing them
against every vault file. It is kept because existing vault files can only be
opened with exactly this derivation. Moving to a random salt stored in a file
header would break every vault written so far.


Token Format

Tokens follow the Fernet specification:

   1 byte version (0x80)
   8 bytes big endian timestamp
   16 bytes AES-CBC initialization vector
   N*16 bytes AES-128-CBC ciphertext (PKCS#7 padded)
   32 bytes HMAC-SHA256 over everything above

The whole token is base64url encoded. The first half of the 32 byte key signs,
the second half encrypts. The timestamp is written but never enforced when
opening a token.
*/
package envelope
