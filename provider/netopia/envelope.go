package netopia

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rc4"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/andreiandoo/epas-sub028/infra/logger"
	"github.com/andreiandoo/epas-sub028/provider"
)

// The gateway exchanges payloads as sealed envelopes: the XML document is
// encrypted with a random symmetric key and the key itself is RSA-encrypted
// with the merchant certificate. Legacy merchant accounts expect RC4; newer
// runtimes that dropped it negotiate AES-256-CBC instead. Opening a callback
// envelope walks three tiers so a runtime without RC4 still decrypts:
// the native crypto library, the openssl binary with its legacy provider,
// and finally a from-scratch RC4 with a manual RSA decrypt.

const (
	cipherRC4 = "rc4"
	cipherAES = "aes-256-cbc"

	rc4KeySize = 16

	opensslTimeout = 10 * time.Second
)

// envelope is the wire shape of a sealed payload. Data and EnvKey are
// base64. Cipher is empty for RC4; AES envelopes carry it plus the IV.
type envelope struct {
	Data   string
	EnvKey string
	Cipher string
	IV     string
}

var rc4Probe struct {
	once sync.Once
	ok   bool
}

// rc4Available probes once whether the runtime crypto library still ships
// RC4, and records the answer for the lifetime of the process.
func rc4Available() bool {
	rc4Probe.once.Do(func() {
		_, err := rc4.NewCipher(make([]byte, rc4KeySize))
		rc4Probe.ok = err == nil
		if !rc4Probe.ok {
			logger.Warn("netopia: rc4 unavailable in runtime, sealing with aes-256-cbc")
		}
	})
	return rc4Probe.ok
}

// sealEnvelope encrypts plaintext for the gateway using the merchant
// certificate. RC4 is preferred when the runtime supports it.
func sealEnvelope(pub *rsa.PublicKey, plaintext []byte) (*envelope, error) {
	if rc4Available() {
		key := make([]byte, rc4KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("netopia: failed to generate envelope key: %w", err)
		}
		stream, err := rc4.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("netopia: rc4 init failed: %w", err)
		}
		data := make([]byte, len(plaintext))
		stream.XORKeyStream(data, plaintext)

		encKey, err := rsa.EncryptPKCS1v15(rand.Reader, pub, key)
		if err != nil {
			return nil, fmt.Errorf("netopia: failed to encrypt envelope key: %w", err)
		}
		return &envelope{
			Data:   base64.StdEncoding.EncodeToString(data),
			EnvKey: base64.StdEncoding.EncodeToString(encKey),
		}, nil
	}

	key := make([]byte, 32)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("netopia: failed to generate envelope key: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("netopia: failed to generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("netopia: aes init failed: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	data := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(data, padded)

	encKey, err := rsa.EncryptPKCS1v15(rand.Reader, pub, key)
	if err != nil {
		return nil, fmt.Errorf("netopia: failed to encrypt envelope key: %w", err)
	}
	return &envelope{
		Data:   base64.StdEncoding.EncodeToString(data),
		EnvKey: base64.StdEncoding.EncodeToString(encKey),
		Cipher: cipherAES,
		IV:     base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// openEnvelope decrypts a callback envelope with the merchant private key.
// Tiers are attempted in order; an intermediate failure is logged and the
// chain proceeds. Only exhaustion of all tiers raises a DecryptionError.
func openEnvelope(ctx context.Context, priv *rsa.PrivateKey, privPEM string, env *envelope) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("netopia: data is not valid base64: %w", err)
	}
	encKey, err := base64.StdEncoding.DecodeString(env.EnvKey)
	if err != nil {
		return nil, fmt.Errorf("netopia: env_key is not valid base64: %w", err)
	}
	var iv []byte
	if env.IV != "" {
		if iv, err = base64.StdEncoding.DecodeString(env.IV); err != nil {
			return nil, fmt.Errorf("netopia: iv is not valid base64: %w", err)
		}
	}

	var tiers []string
	var lastErr error

	tiers = append(tiers, "native")
	plaintext, err := openNative(priv, encKey, data, env.Cipher, iv)
	if err == nil {
		return plaintext, nil
	}
	lastErr = err
	logger.Warn("netopia: native decryption failed, trying openssl cli: " + err.Error())

	tiers = append(tiers, "openssl-cli")
	plaintext, err = openWithOpenSSL(ctx, privPEM, encKey, data, env.Cipher, iv)
	if err == nil {
		return plaintext, nil
	}
	lastErr = err
	logger.Warn("netopia: openssl cli decryption failed, trying manual rc4: " + err.Error())

	tiers = append(tiers, "manual")
	plaintext, err = openManual(priv, encKey, data, env.Cipher, iv)
	if err == nil {
		return plaintext, nil
	}
	lastErr = err

	return nil, &provider.DecryptionError{Processor: "netopia", Tiers: tiers, Err: lastErr}
}

// openNative uses the runtime crypto library for both the key and the data.
func openNative(priv *rsa.PrivateKey, encKey, data []byte, cipherName string, iv []byte) ([]byte, error) {
	key, err := rsa.DecryptPKCS1v15(rand.Reader, priv, encKey)
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	return decryptData(key, data, cipherName, iv)
}

func decryptData(key, data []byte, cipherName string, iv []byte) ([]byte, error) {
	if cipherName == cipherAES {
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes init: %w", err)
		}
		if len(iv) != aes.BlockSize || len(data)%aes.BlockSize != 0 {
			return nil, fmt.Errorf("aes payload malformed")
		}
		out := make([]byte, len(data))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
		return pkcs7Unpad(out, aes.BlockSize)
	}

	stream, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("rc4 init: %w", err)
	}
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}

// opensslLegacyConf activates the legacy provider so the binary accepts RC4.
const opensslLegacyConf = `openssl_conf = openssl_init

[openssl_init]
providers = provider_sect

[provider_sect]
default = default_sect
legacy = legacy_sect

[default_sect]
activate = 1

[legacy_sect]
activate = 1
`

// openWithOpenSSL shells out to the openssl binary. Key material lands in a
// private temp directory that is removed on every exit path, and both
// invocations run under a hard timeout.
func openWithOpenSSL(ctx context.Context, privPEM string, encKey, data []byte, cipherName string, iv []byte) (out []byte, err error) {
	if _, err := exec.LookPath("openssl"); err != nil {
		return nil, fmt.Errorf("openssl binary not found: %w", err)
	}

	dir, err := os.MkdirTemp("", "netopia-env-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	keyPath := filepath.Join(dir, "merchant.key")
	encKeyPath := filepath.Join(dir, "env_key.bin")
	symKeyPath := filepath.Join(dir, "sym.key")
	dataPath := filepath.Join(dir, "data.bin")
	outPath := filepath.Join(dir, "out.bin")
	confPath := filepath.Join(dir, "openssl.cnf")

	if err := os.WriteFile(keyPath, []byte(privPEM), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := os.WriteFile(encKeyPath, encKey, 0600); err != nil {
		return nil, fmt.Errorf("write env_key file: %w", err)
	}
	if err := os.WriteFile(dataPath, data, 0600); err != nil {
		return nil, fmt.Errorf("write data file: %w", err)
	}
	if err := os.WriteFile(confPath, []byte(opensslLegacyConf), 0600); err != nil {
		return nil, fmt.Errorf("write openssl config: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, opensslTimeout)
	defer cancel()

	unwrap := exec.CommandContext(runCtx, "openssl", "pkeyutl", "-decrypt",
		"-inkey", keyPath, "-in", encKeyPath, "-out", symKeyPath,
		"-pkeyopt", "rsa_padding_mode:pkcs1")
	unwrap.Env = append(os.Environ(), "OPENSSL_CONF="+confPath)
	if output, err := unwrap.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("openssl pkeyutl: %w: %s", err, string(output))
	}

	symKey, err := os.ReadFile(symKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read unwrapped key: %w", err)
	}

	args := []string{"enc", "-d", "-in", dataPath, "-out", outPath,
		"-K", hex.EncodeToString(symKey)}
	if cipherName == cipherAES {
		args = append(args, "-aes-256-cbc", "-iv", hex.EncodeToString(iv))
	} else {
		args = append(args, "-rc4")
	}

	dec := exec.CommandContext(runCtx, "openssl", args...)
	dec.Env = append(os.Environ(), "OPENSSL_CONF="+confPath)
	if output, err := dec.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("openssl enc: %w: %s", err, string(output))
	}

	out, err = os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read decrypted output: %w", err)
	}
	return out, nil
}

// openManual avoids the runtime's cipher registry entirely: the envelope
// key is recovered with textbook RSA over big integers and the data with a
// from-scratch RC4.
func openManual(priv *rsa.PrivateKey, encKey, data []byte, cipherName string, iv []byte) ([]byte, error) {
	key, err := manualRSADecrypt(priv, encKey)
	if err != nil {
		return nil, err
	}
	if cipherName == cipherAES {
		return decryptData(key, data, cipherName, iv)
	}

	stream := newRC4Stream(key)
	out := make([]byte, len(data))
	stream.xorKeyStream(out, data)
	return out, nil
}

// manualRSADecrypt computes m = c^d mod n and strips PKCS#1 v1.5 block
// type 2 padding.
func manualRSADecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	k := priv.Size()
	if len(ciphertext) != k || k < 11 {
		return nil, fmt.Errorf("manual rsa: ciphertext length %d does not match key size %d", len(ciphertext), k)
	}

	c := new(big.Int).SetBytes(ciphertext)
	if c.Cmp(priv.N) >= 0 {
		return nil, fmt.Errorf("manual rsa: ciphertext out of range")
	}
	m := new(big.Int).Exp(c, priv.D, priv.N)

	em := make([]byte, k)
	m.FillBytes(em)

	if subtle.ConstantTimeByteEq(em[0], 0) != 1 || subtle.ConstantTimeByteEq(em[1], 2) != 1 {
		return nil, fmt.Errorf("manual rsa: invalid padding")
	}
	sep := bytes.IndexByte(em[2:], 0)
	if sep < 8 {
		return nil, fmt.Errorf("manual rsa: invalid padding")
	}
	return em[2+sep+1:], nil
}

// rc4Stream is a self-contained RC4 for runtimes whose crypto library no
// longer ships the cipher.
type rc4Stream struct {
	s    [256]byte
	i, j uint8
}

func newRC4Stream(key []byte) *rc4Stream {
	var st rc4Stream
	for i := 0; i < 256; i++ {
		st.s[i] = byte(i)
	}
	var j uint8
	for i := 0; i < 256; i++ {
		j += st.s[i] + key[i%len(key)]
		st.s[i], st.s[j] = st.s[j], st.s[i]
	}
	return &st
}

func (st *rc4Stream) xorKeyStream(dst, src []byte) {
	i, j := st.i, st.j
	for n, b := range src {
		i++
		j += st.s[i]
		st.s[i], st.s[j] = st.s[j], st.s[i]
		dst[n] = b ^ st.s[st.s[i]+st.s[j]]
	}
	st.i, st.j = i, j
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("pkcs7: malformed data")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("pkcs7: invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("pkcs7: invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}

// parsePrivateKey accepts PKCS#8 and PKCS#1 PEM blocks.
func parsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA private key")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// parsePublicKey accepts an X.509 certificate or a bare public key PEM.
func parsePublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("certificate does not carry an RSA key")
		}
		return pub, nil
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return pub, nil
}
