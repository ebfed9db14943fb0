package keystore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

func init() {
	SetSystemTPMProvider(&deviceTPMProvider{})
}

// deviceTPMProvider opens the kernel TPM device directly. A process-wide
// mutex serializes access: the TPM is a single resource and the in-kernel
// resource manager does not tolerate interleaved sessions from one process.
type deviceTPMProvider struct {
	mu sync.Mutex
}

func (p *deviceTPMProvider) Open(ctx context.Context, cfg TPMStoreConfig) (TPMSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()

	if _, err := os.Stat(cfg.DevicePath); err != nil {
		p.mu.Unlock()
		if os.IsNotExist(err) {
			return nil, ErrTPMUnavailable
		}
		return nil, fmt.Errorf("tpm: could not stat device: %w", err)
	}

	tpm, err := transport.OpenTPM(cfg.DevicePath)
	if err != nil {
		p.mu.Unlock()
		if os.IsNotExist(err) {
			return nil, ErrTPMUnavailable
		}
		return nil, fmt.Errorf("tpm: could not open %s: %w", cfg.DevicePath, err)
	}

	return &deviceTPMSession{
		provider: p,
		tpm:      tpm,
		hashAlg:  parsePCRBank(cfg.HashAlgorithm),
		pcrs:     cfg.PCRSelection,
	}, nil
}

type deviceTPMSession struct {
	provider *deviceTPMProvider
	tpm      transport.TPMCloser
	hashAlg  tpm2.TPMAlgID
	pcrs     []int
}

func (s *deviceTPMSession) Unseal(ctx context.Context, handle TPMHandle, password string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objectHandle := tpm2.TPMHandle(handle)

	// Read the object's public area for its Name and to learn whether a
	// policy gates it.
	readPub := tpm2.ReadPublic{ObjectHandle: objectHandle}
	readPubResp, err := readPub.Execute(s.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: read public failed for 0x%08x: %w", uint32(handle), err)
	}

	pubArea, err := readPubResp.OutPublic.Contents()
	if err != nil {
		return nil, fmt.Errorf("tpm: could not parse public area: %w", err)
	}

	if len(pubArea.AuthPolicy.Buffer) > 0 {
		return s.unsealWithPolicy(objectHandle, readPubResp.Name)
	}
	return s.unsealWithPassword(objectHandle, readPubResp.Name, password)
}

func (s *deviceTPMSession) unsealWithPassword(handle tpm2.TPMHandle, name tpm2.TPM2BName, password string) ([]byte, error) {
	unseal := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: handle,
			Name:   name,
			Auth:   tpm2.PasswordAuth([]byte(password)),
		},
	}

	rsp, err := unseal.Execute(s.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: unseal failed: %w", err)
	}
	return rsp.OutData.Buffer, nil
}

func (s *deviceTPMSession) unsealWithPolicy(handle tpm2.TPMHandle, name tpm2.TPM2BName) ([]byte, error) {
	sess, cleanup, err := tpm2.PolicySession(s.tpm, tpm2.TPMAlgSHA256, 16)
	if err != nil {
		return nil, fmt.Errorf("tpm: could not start policy session: %w", err)
	}
	defer cleanup()

	_, err = tpm2.PolicyPCR{
		PolicySession: sess.Handle(),
		Pcrs: tpm2.TPMLPCRSelection{
			PCRSelections: []tpm2.TPMSPCRSelection{
				{
					Hash:      s.hashAlg,
					PCRSelect: pcrSelectBitmask(s.pcrs),
				},
			},
		},
	}.Execute(s.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: PCR policy failed: %w", err)
	}

	unseal := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: handle,
			Name:   name,
			Auth:   sess,
		},
	}

	rsp, err := unseal.Execute(s.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: unseal failed: %w", err)
	}
	return rsp.OutData.Buffer, nil
}

func (s *deviceTPMSession) Close(ctx context.Context) error {
	defer s.provider.mu.Unlock()

	if s.tpm != nil {
		return s.tpm.Close()
	}
	return nil
}

// pcrSelectBitmask renders PCR indices as the TPM's three-byte selection
// bitmap covering PCRs 0-23.
func pcrSelectBitmask(pcrs []int) []byte {
	sel := make([]byte, 3)
	for _, pcr := range pcrs {
		if pcr >= 0 && pcr < 24 {
			sel[pcr/8] |= 1 << uint(pcr%8)
		}
	}
	return sel
}

func parsePCRBank(name string) tpm2.TPMAlgID {
	switch name {
	case "SHA1":
		return tpm2.TPMAlgSHA1
	case "SHA384":
		return tpm2.TPMAlgSHA384
	case "SHA512":
		return tpm2.TPMAlgSHA512
	default:
		return tpm2.TPMAlgSHA256
	}
}
