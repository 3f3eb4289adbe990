package crypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

const keyBits = 4096

// AlgorithmRSAOAEPAESGCM identifies the hybrid scheme: payload under
// AES-256-GCM with a fresh key per message, key wrapped with RSA-OAEP/SHA-256.
const AlgorithmRSAOAEPAESGCM = "RSA-OAEP+AES256-GCM"

// ErrDecryption is returned for every decryption failure. Wrong key,
// unknown algorithm and tampered ciphertext are deliberately
// indistinguishable to the caller.
var ErrDecryption = errors.New("decryption failed")

// KeyPair holds a PEM-encoded RSA key pair.
type KeyPair struct {
	Public  string
	Private string
}

// Envelope is the output of hybrid encryption. All fields are base64 text
// so the envelope can be stored or sent as-is.
type Envelope struct {
	CipherText string `json:"ciphertext"`
	WrappedKey string `json:"encrypted_key"`
	Algorithm  string `json:"algorithm"`
}

// GenerateKeyPair produces a 4096-bit RSA key pair, private key in PKCS#8
// PEM and public key in PKIX PEM. An entropy-source failure is the only
// error path and is fatal for callers at startup.
func GenerateKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	return &KeyPair{Public: string(pubPEM), Private: string(privPEM)}, nil
}

// ParsePrivateKey converts a PKCS#8 PEM string to an RSA private key.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}

	return rsaKey, nil
}

// ParsePublicKey converts a PKIX PEM string to an RSA public key.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}

// EncryptMessage encrypts plaintext for the holder of the given public key.
// A fresh 32-byte symmetric key and 12-byte nonce are generated per call, so
// identical plaintexts never produce identical ciphertexts. The nonce is
// prepended to the GCM ciphertext.
func EncryptMessage(plaintext string, publicKeyPem string) (*Envelope, error) {
	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return nil, err
	}

	symKey := make([]byte, 32)
	if _, err := rand.Read(symKey); err != nil {
		return nil, fmt.Errorf("failed to generate symmetric key: %w", err)
	}

	block, err := aes.NewCipher(symKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pubKey, symKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap symmetric key: %w", err)
	}

	return &Envelope{
		CipherText: base64.StdEncoding.EncodeToString(sealed),
		WrappedKey: base64.StdEncoding.EncodeToString(wrapped),
		Algorithm:  AlgorithmRSAOAEPAESGCM,
	}, nil
}

// DecryptMessage unwraps the symmetric key with the private key and decrypts
// the payload. Every failure mode is reported as ErrDecryption.
func DecryptMessage(env *Envelope, privateKeyPem string) (string, error) {
	if env.Algorithm != AlgorithmRSAOAEPAESGCM {
		return "", ErrDecryption
	}

	privKey, err := ParsePrivateKey(privateKeyPem)
	if err != nil {
		return "", ErrDecryption
	}

	wrapped, err := base64.StdEncoding.DecodeString(env.WrappedKey)
	if err != nil {
		return "", ErrDecryption
	}
	symKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, privKey, wrapped, nil)
	if err != nil {
		return "", ErrDecryption
	}

	sealed, err := base64.StdEncoding.DecodeString(env.CipherText)
	if err != nil {
		return "", ErrDecryption
	}

	block, err := aes.NewCipher(symKey)
	if err != nil {
		return "", ErrDecryption
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryption
	}
	if len(sealed) < aesgcm.NonceSize() {
		return "", ErrDecryption
	}

	nonce, ciphertext := sealed[:aesgcm.NonceSize()], sealed[aesgcm.NonceSize():]
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryption
	}

	return string(plaintext), nil
}

// Sign produces a base64 RSA-PSS signature over the SHA-256 digest of data,
// with the maximum salt length.
func Sign(data string, privateKeyPem string) (string, error) {
	privKey, err := ParsePrivateKey(privateKeyPem)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(data))
	sig, err := rsa.SignPSS(rand.Reader, privKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 RSA-PSS signature. It never returns an error:
// malformed keys, malformed signatures and tampered data all report false so
// callers can treat "invalid" uniformly.
func Verify(data string, signature string, publicKeyPem string) bool {
	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	digest := sha256.Sum256([]byte(data))
	err = rsa.VerifyPSS(pubKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	return err == nil
}
