//go:build pkcs11 && cgo

package keystore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkcs "github.com/miekg/pkcs11"
)

func init() {
	systemSessionProvider = &nativeTokenProvider{}
}

type nativeTokenProvider struct{}

func (nativeTokenProvider) Open(ctx context.Context, cfg PKCS11StoreConfig) (TokenSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	module := pkcs.New(cfg.ModulePath)
	if module == nil {
		return nil, errors.New("pkcs11: failed to load module")
	}
	if err := module.Initialize(); err != nil {
		module.Destroy()
		return nil, err
	}

	slot, err := selectTokenSlot(module, cfg)
	if err != nil {
		module.Finalize()
		module.Destroy()
		return nil, err
	}

	session, err := module.OpenSession(slot, pkcs.CKF_SERIAL_SESSION|pkcs.CKF_RW_SESSION)
	if err != nil {
		module.Finalize()
		module.Destroy()
		return nil, err
	}

	if cfg.PIN != "" {
		if err := module.Login(session, pkcs.CKU_USER, cfg.PIN); err != nil && err != pkcs.Error(pkcs.CKR_USER_ALREADY_LOGGED_IN) {
			module.CloseSession(session)
			module.Finalize()
			module.Destroy()
			return nil, err
		}
	}

	return &nativeTokenSession{module: module, session: session}, nil
}

func selectTokenSlot(module *pkcs.Ctx, cfg PKCS11StoreConfig) (uint, error) {
	if cfg.Slot != "" {
		id, err := strconv.ParseUint(cfg.Slot, 10, 32)
		if err != nil {
			return 0, err
		}
		return uint(id), nil
	}

	slots, err := module.GetSlotList(true)
	if err != nil {
		return 0, err
	}
	label := strings.TrimSpace(cfg.TokenLabel)
	for _, slot := range slots {
		info, err := module.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(info.Label), label) {
			return slot, nil
		}
	}
	return 0, ErrTokenUnavailable
}

type nativeTokenSession struct {
	module  *pkcs.Ctx
	session pkcs.SessionHandle
}

func (s *nativeTokenSession) findKey(label string) (pkcs.ObjectHandle, bool, error) {
	template := []*pkcs.Attribute{
		pkcs.NewAttribute(pkcs.CKA_CLASS, pkcs.CKO_SECRET_KEY),
		pkcs.NewAttribute(pkcs.CKA_LABEL, label),
	}
	if err := s.module.FindObjectsInit(s.session, template); err != nil {
		return 0, false, err
	}
	handles, _, err := s.module.FindObjects(s.session, 1)
	finalErr := s.module.FindObjectsFinal(s.session)
	if err != nil {
		return 0, false, err
	}
	if finalErr != nil {
		return 0, false, finalErr
	}
	if len(handles) == 0 {
		return 0, false, nil
	}
	return handles[0], true, nil
}

func (s *nativeTokenSession) EnsureKey(ctx context.Context, label string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, found, err := s.findKey(label); err != nil {
		return false, err
	} else if found {
		return false, nil
	}

	mech := []*pkcs.Mechanism{pkcs.NewMechanism(pkcs.CKM_GENERIC_SECRET_KEY_GEN, nil)}
	template := []*pkcs.Attribute{
		pkcs.NewAttribute(pkcs.CKA_CLASS, pkcs.CKO_SECRET_KEY),
		pkcs.NewAttribute(pkcs.CKA_KEY_TYPE, pkcs.CKK_GENERIC_SECRET),
		pkcs.NewAttribute(pkcs.CKA_LABEL, label),
		pkcs.NewAttribute(pkcs.CKA_TOKEN, true),
		pkcs.NewAttribute(pkcs.CKA_SIGN, true),
		pkcs.NewAttribute(pkcs.CKA_VERIFY, true),
		pkcs.NewAttribute(pkcs.CKA_SENSITIVE, true),
		pkcs.NewAttribute(pkcs.CKA_EXTRACTABLE, false),
		pkcs.NewAttribute(pkcs.CKA_VALUE_LEN, 32),
	}
	if _, err := s.module.GenerateKey(s.session, mech, template); err != nil {
		return false, fmt.Errorf("pkcs11: key generation failed: %w", err)
	}
	return true, nil
}

func (s *nativeTokenSession) ImportKey(ctx context.Context, label string, material []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if handle, found, err := s.findKey(label); err != nil {
		return err
	} else if found {
		if err := s.module.DestroyObject(s.session, handle); err != nil {
			return fmt.Errorf("pkcs11: could not replace %s: %w", label, err)
		}
	}

	template := []*pkcs.Attribute{
		pkcs.NewAttribute(pkcs.CKA_CLASS, pkcs.CKO_SECRET_KEY),
		pkcs.NewAttribute(pkcs.CKA_KEY_TYPE, pkcs.CKK_GENERIC_SECRET),
		pkcs.NewAttribute(pkcs.CKA_LABEL, label),
		pkcs.NewAttribute(pkcs.CKA_TOKEN, true),
		pkcs.NewAttribute(pkcs.CKA_SIGN, true),
		pkcs.NewAttribute(pkcs.CKA_VERIFY, true),
		pkcs.NewAttribute(pkcs.CKA_SENSITIVE, true),
		pkcs.NewAttribute(pkcs.CKA_EXTRACTABLE, false),
		pkcs.NewAttribute(pkcs.CKA_VALUE, material),
	}
	if _, err := s.module.CreateObject(s.session, template); err != nil {
		return fmt.Errorf("pkcs11: import failed: %w", err)
	}
	return nil
}

func (s *nativeTokenSession) SignHMAC(ctx context.Context, label string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handle, found, err := s.findKey(label)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("pkcs11: no key under label %s", label)
	}

	mech := []*pkcs.Mechanism{pkcs.NewMechanism(pkcs.CKM_SHA256_HMAC, nil)}
	if err := s.module.SignInit(s.session, mech, handle); err != nil {
		return nil, fmt.Errorf("pkcs11: sign init failed: %w", err)
	}
	mac, err := s.module.Sign(s.session, data)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: sign failed: %w", err)
	}
	return mac, nil
}

func (s *nativeTokenSession) DestroyKey(ctx context.Context, label string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	handle, found, err := s.findKey(label)
	if err != nil || !found {
		return false, err
	}
	if err := s.module.DestroyObject(s.session, handle); err != nil {
		return false, err
	}
	return true, nil
}

func (s *nativeTokenSession) Close(ctx context.Context) error {
	defer func() {
		s.module.CloseSession(s.session)
		s.module.Finalize()
		s.module.Destroy()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.module.Logout(s.session); err != nil && err != pkcs.Error(pkcs.CKR_USER_NOT_LOGGED_IN) {
		return err
	}
	return nil
}
