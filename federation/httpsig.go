package federation

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"

	"github.com/metafed/metafed/crypto"
)

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// VerifyRequest verifies the HTTP signature on an incoming request.
// Returns the signing key id's base URI if valid, error otherwise.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	pubKey, err := crypto.ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	keyId := verifier.KeyId()
	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// keyId is usually "https://example.com/users/alice#main-key";
	// we want the part before the fragment.
	return strings.Split(keyId, "#")[0], nil
}
