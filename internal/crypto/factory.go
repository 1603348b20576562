package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/kenneth/envvault/internal/config"
)

// Suite bundles the process-wide crypto primitives built from configuration.
type Suite struct {
	Deriver    *Deriver
	Cipher     *Cipher
	KDFContext string
	// LinkKey encrypts registration links and LinkMACKey authenticates them.
	// Both are nil when no link secret is configured.
	LinkKey    []byte
	LinkMACKey []byte
}

// LinkMACContext is the derivation context of the link authentication key.
const LinkMACContext = "registration-link-mac"

// BuildSuite derives fixed IVs and the link key from cfg. The result is
// never mutated afterwards.
func BuildSuite(cfg config.CryptoConfig, recorder Recorder) (*Suite, error) {
	deriver := NewDeriver(cfg.KDFIterations)

	opts := CipherOptions{
		Mode:     IVMode(cfg.IVMode),
		Recorder: recorder,
	}

	if opts.Mode == IVModeFixed {
		wrapIV, err := resolveIV(deriver, cfg.KDFContext, cfg.KeyWrapIV)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve key_wrap_iv: %w", err)
		}
		valueIV, err := resolveIV(deriver, cfg.KDFContext, cfg.SecretValueIV)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve secret_value_iv: %w", err)
		}
		linkIV := wrapIV
		if cfg.LinkIV.Seed != "" || cfg.LinkIV.Hex != "" {
			linkIV, err = resolveIV(deriver, cfg.KDFContext, cfg.LinkIV)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve link_iv: %w", err)
			}
		}
		opts.IVs = map[Purpose][]byte{
			PurposeKeyWrap:          wrapIV,
			PurposeSecretValue:      valueIV,
			PurposeRegistrationLink: linkIV,
		}
	}

	c, err := NewCipher(opts)
	if err != nil {
		return nil, err
	}

	suite := &Suite{
		Deriver:    deriver,
		Cipher:     c,
		KDFContext: cfg.KDFContext,
	}
	if cfg.LinkSecret != "" {
		suite.LinkKey, err = deriver.Derive([]byte(cfg.LinkSecret), cfg.KDFContext)
		if err != nil {
			return nil, fmt.Errorf("failed to derive link key: %w", err)
		}
		suite.LinkMACKey, err = deriver.Derive([]byte(cfg.LinkSecret), LinkMACContext)
		if err != nil {
			return nil, fmt.Errorf("failed to derive link mac key: %w", err)
		}
	}
	return suite, nil
}

func resolveIV(d *Deriver, context string, src config.IVSource) ([]byte, error) {
	if src.Hex != "" {
		iv, err := hex.DecodeString(src.Hex)
		if err != nil {
			return nil, &Error{Op: "configure", Err: fmt.Errorf("%w: %v", ErrInvalidIV, err)}
		}
		if len(iv) != IVSize {
			return nil, &Error{Op: "configure", Err: fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidIV, IVSize, len(iv))}
		}
		return iv, nil
	}
	return d.DeriveSize([]byte(src.Seed), context, IVSize)
}
