/*
Package vault keeps site/username/password credentials in a single encrypted
file protected by a master password.

A Vault is opened with a master password. The key derived from it is fixed for
the life of the Vault; using another master password means opening another
Vault. Every Add or Remove re-encrypts the whole record set and overwrites the
file, so the file always reflects the last successful mutation.


File Format

The file holds one envelope token (see package envelope). Its plaintext is a
JSON array:

   [{"site":"bank.com","username":"alice","password":"...","pwned":false}]

Every field is required. A payload that does not match this layout is
reported the same way as a wrong master password: the vault cannot be used
with this password and file.


Limitations

Writes are not atomic. A process killed while saving can leave a truncated
file, which then fails to open. A Vault is not safe for concurrent use and two
processes must not share a vault file.
*/
package vault
