// SPDX-FileCopyrightText: 2020 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// BCBIOPAESGCM implements the Block Confidentiality Block using the
// BCB-AES-GCM security context of RFC 9173 section 4.
type BCBIOPAESGCM struct {
	Asb AbstractSecurityBlock
}

// BCB-AES-GCM security parameter identifiers.
const (
	SecParIdBCBIOPAESGCMIV            uint64 = 1
	SecParIdBCBIOPAESGCMAESVariant    uint64 = 2
	SecParIdBCBIOPAESGCMWrappedKey    uint64 = 3
	SecParIdBCBIOPAESGCMAADScopeFlags uint64 = 4
)

// SecConResultIDBCBIOPAESGCMAuthenticationTag is the BCB-AES-GCM result identifier.
const SecConResultIDBCBIOPAESGCMAuthenticationTag uint64 = 1

// AES variant parameter values for BCB-AES-GCM.
const (
	A128GCM uint64 = 1
	A256GCM uint64 = 3 // default
)

// AAD scope flags select which canonical forms feed the additional
// authenticated data, per RFC 9173 section 4.3.4. Default 0b111.
const (
	DefaultAADScopeFlags           uint16 = 0b111
	PrimaryBlockFlagBCBIOPAESGCM   uint16 = 0b001
	TargetHeaderFlagBCBIOPAESGCM   uint16 = 0b010
	SecurityHeaderFlagBCBIOPAESGCM uint16 = 0b100
)

func (bcb *BCBIOPAESGCM) BlockTypeCode() uint64 { return ExtBlockTypeBlockConfidentialityBlock }
func (bcb *BCBIOPAESGCM) BlockTypeName() string { return SecConNameBCBIOPAESGCM }

func (bcb *BCBIOPAESGCM) MarshalCbor(w io.Writer) error {
	return bcb.Asb.MarshalCbor(w)
}

func (bcb *BCBIOPAESGCM) UnmarshalCbor(r io.Reader) error {
	return bcb.Asb.UnmarshalCbor(r)
}

func (bcb *BCBIOPAESGCM) CheckValid() error {
	return bcb.Asb.CheckValid()
}

// CheckContextValid checks bcb.CheckValid plus the RFC 9172 section 3.6
// constraints that need the enclosing Bundle: every security target must
// name a block actually present on the bundle, and a BCB must not target
// another BCB.
func (bcb *BCBIOPAESGCM) CheckContextValid(b *Bundle) (errs error) {
	if err := bcb.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}

	for _, target := range bcb.Asb.SecurityTargets {
		targetBlock, err := b.GetExtensionBlockByBlockNumber(target)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf(
				"BCBIOPAESGCM: security target block number %d does not exist in this bundle", target))
			continue
		}

		if _, isBcb := targetBlock.Value.(*BCBIOPAESGCM); isBcb {
			errs = multierror.Append(errs, fmt.Errorf(
				"BCBIOPAESGCM: security target block number %d is itself a BCB", target))
		}
	}

	return errs
}

// NewBCBIOPAESGCM creates a BCBIOPAESGCM targeting a single block. Any of
// aesVariant, wrappedKey and aadScopeFlags may be nil to omit that optional
// security parameter and fall back to its RFC 9173 default.
func NewBCBIOPAESGCM(aesVariant *uint64, wrappedKey *[]byte, aadScopeFlags *uint16, securityTarget uint64, securitySource EndpointID) *BCBIOPAESGCM {
	securityContextParametersPresentFlag := uint64(0)
	if aesVariant != nil || wrappedKey != nil || aadScopeFlags != nil {
		securityContextParametersPresentFlag = 1
	}

	var securityContextParameters []IDValueTuple

	if aesVariant != nil {
		securityContextParameters = append(securityContextParameters, &IDValueTupleUInt64{
			id:    SecParIdBCBIOPAESGCMAESVariant,
			value: *aesVariant,
		})
	}

	if wrappedKey != nil {
		securityContextParameters = append(securityContextParameters, &IDValueTupleByteString{
			id:    SecParIdBCBIOPAESGCMWrappedKey,
			value: *wrappedKey,
		})
	}

	if aadScopeFlags != nil {
		securityContextParameters = append(securityContextParameters, &IDValueTupleUInt64{
			id:    SecParIdBCBIOPAESGCMAADScopeFlags,
			value: uint64(*aadScopeFlags),
		})
	}

	return &BCBIOPAESGCM{Asb: AbstractSecurityBlock{
		SecurityTargets:                      []uint64{securityTarget},
		SecurityContextID:                    SecConIdentBCBIOPAESGCM,
		SecurityContextParametersPresentFlag: securityContextParametersPresentFlag,
		SecuritySource:                       securitySource,
		SecurityContextParameters:            securityContextParameters,
		SecurityResults: []TargetSecurityResults{{
			securityTarget: securityTarget,
			results:        []IDValueTuple{},
		}},
	}}
}

// extractPlainText returns the security target's plaintext payload, per RFC 9173 section 4.7.1.
func (bcb *BCBIOPAESGCM) extractPlainText(securityTargetBlock *CanonicalBlock) (plainText *bytes.Buffer, err error) {
	plainText = new(bytes.Buffer)

	payloadBlock := securityTargetBlock.Value.(*PayloadBlock)
	_, err = plainText.Write(payloadBlock.Data())
	if err != nil {
		return nil, err
	}
	return
}

// prepareAAD constructs the additional authenticated data per RFC 9173 section 4.7.2.
func (bcb *BCBIOPAESGCM) prepareAAD(b Bundle, securityTargetBlock *CanonicalBlock, bcbBlockNumber uint64) (aad *bytes.Buffer, err error) {
	aad = &bytes.Buffer{}

	aadScopeFlag := DefaultAADScopeFlags

	if bcb.Asb.HasSecurityContextParametersPresentContextFlag() {
		for _, scp := range bcb.Asb.SecurityContextParameters {
			if scp.ID() == SecParIdBCBIOPAESGCMAADScopeFlags {
				aadScopeFlag = uint16(scp.Value().(uint64))
			}
		}
	}

	// 1. The canonical form of the AAD starts with the AAD scope flags.
	if err = cboring.WriteUInt(uint64(aadScopeFlag), aad); err != nil {
		return nil, err
	}

	// 2. Primary block flag: append the primary block's canonical form.
	if aadScopeFlag&PrimaryBlockFlagBCBIOPAESGCM == PrimaryBlockFlagBCBIOPAESGCM {
		if err = b.PrimaryBlock.MarshalCbor(aad); err != nil {
			return nil, err
		}
	}

	// 3. Target header flag: append the target's block type code, number and flags.
	if aadScopeFlag&TargetHeaderFlagBCBIOPAESGCM == TargetHeaderFlagBCBIOPAESGCM {
		if err = cboring.WriteUInt(securityTargetBlock.TypeCode(), aad); err != nil {
			return nil, err
		}
		if err = cboring.WriteUInt(securityTargetBlock.BlockNumber, aad); err != nil {
			return nil, err
		}
		if err = cboring.WriteUInt(uint64(securityTargetBlock.BlockControlFlags), aad); err != nil {
			return nil, err
		}
	}

	// 4. Security header flag: append the BCB's own block type code, number and flags.
	if aadScopeFlag&SecurityHeaderFlagBCBIOPAESGCM == SecurityHeaderFlagBCBIOPAESGCM {
		if err = cboring.WriteUInt(bcb.BlockTypeCode(), aad); err != nil {
			return nil, err
		}
		if err = cboring.WriteUInt(bcbBlockNumber, aad); err != nil {
			return nil, err
		}

		bcbCanonicalBlock, err := b.ExtensionBlock(bcb.BlockTypeCode())
		if err != nil {
			return nil, err
		}

		if err = cboring.WriteUInt(bcbCanonicalBlock.BlockNumber, aad); err != nil {
			return nil, err
		}
		if err = cboring.WriteUInt(uint64(bcbCanonicalBlock.BlockControlFlags), aad); err != nil {
			return nil, err
		}
	}

	return aad, nil
}

// computeAuthenticationTagAndCipherText runs AES-GCM over plainText with aad
// as additional authenticated data, returning the ciphertext and tag separately.
func (bcb *BCBIOPAESGCM) computeAuthenticationTagAndCipherText(plainText *bytes.Buffer, aad *bytes.Buffer, privateKey []byte) (cipherText []byte, authenticationTag []byte, err error) {
	wrappedKey := func() *[]byte {
		for _, scp := range bcb.Asb.SecurityContextParameters {
			if scp.ID() == SecParIdBCBIOPAESGCMWrappedKey {
				scpValue := scp.Value().([]byte)
				return &scpValue
			}
		}
		return nil
	}()
	if wrappedKey != nil {
		return nil, nil, fmt.Errorf("wrapped key not implemented")
	}

	if err = checkKeyLengthAgainstAESVariantParameter(bcb, privateKey); err != nil {
		return nil, nil, err
	}

	aesIVParameter := func() *[]byte {
		for _, scp := range bcb.Asb.SecurityContextParameters {
			if scp.ID() == SecParIdBCBIOPAESGCMIV {
				scpValue := scp.Value().([]byte)
				return &scpValue
			}
		}
		return nil
	}()

	block, err := aes.NewCipher(privateKey)
	if err != nil {
		return nil, nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	if aesIVParameter == nil {
		iv := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, iv); err != nil {
			return nil, nil, err
		}
		aesIVParameter = &iv

		bcb.Asb.SecurityContextParameters = append(bcb.Asb.SecurityContextParameters,
			&IDValueTupleByteString{id: SecParIdBCBIOPAESGCMIV, value: iv})
		bcb.Asb.SecurityContextParametersPresentFlag |= SecurityContextParametersPresentFlag
	}

	fullCipherText := gcm.Seal(nil, *aesIVParameter, plainText.Bytes(), aad.Bytes())

	cipherText = fullCipherText[0 : len(fullCipherText)-gcm.Overhead()]
	authenticationTag = fullCipherText[len(fullCipherText)-gcm.Overhead():]

	return
}

// checkKeyLengthAgainstAESVariantParameter rejects a key whose length
// disagrees with an explicitly set AES variant parameter.
func checkKeyLengthAgainstAESVariantParameter(bcb *BCBIOPAESGCM, privateKey []byte) (err error) {
	aesVariantParameter := func() *uint64 {
		for _, scp := range bcb.Asb.SecurityContextParameters {
			if scp.ID() == SecParIdBCBIOPAESGCMAESVariant {
				scpValue := scp.Value().(uint64)
				return &scpValue
			}
		}
		return nil
	}()

	switch len(privateKey) {
	case 16:
		if aesVariantParameter != nil && *aesVariantParameter != A128GCM {
			return fmt.Errorf("AES-128 variant %d and key length %d does not match", *aesVariantParameter, len(privateKey))
		}
	case 32:
		if aesVariantParameter != nil && *aesVariantParameter != A256GCM {
			return fmt.Errorf("AES-256 variant %d and key length %d does not match", *aesVariantParameter, len(privateKey))
		}
	default:
		return fmt.Errorf("key length %d is not supported", len(privateKey))
	}
	return nil
}

// EncryptTarget replaces the target Payload Block's data with its AES-GCM
// ciphertext and records the authentication tag as a security result.
func (bcb *BCBIOPAESGCM) EncryptTarget(b Bundle, bcbBlockNumber uint64, privateKey []byte) (err error) {
	securityTargetBlock, err := b.GetExtensionBlockByBlockNumber(bcb.Asb.SecurityTargets[0])
	if err != nil {
		return err
	}
	if securityTargetBlock.Value.BlockTypeCode() != ExtBlockTypePayloadBlock {
		return fmt.Errorf("unsupported security target block type code %d, %s",
			securityTargetBlock.Value.BlockTypeCode(), securityTargetBlock.Value.BlockTypeName())
	}

	if securityTargetBlock.CRCType != CRCNo {
		securityTargetBlock.CRCType = CRCNo
		securityTargetBlock.CRC = nil
	}

	plainText, err := bcb.extractPlainText(securityTargetBlock)
	if err != nil {
		return err
	}

	aad, err := bcb.prepareAAD(b, securityTargetBlock, bcbBlockNumber)
	if err != nil {
		return err
	}

	cipherText, authenticationTag, err := bcb.computeAuthenticationTagAndCipherText(plainText, aad, privateKey)
	if err != nil {
		return err
	}

	securityTargetBlock.Value = NewPayloadBlock(cipherText)

	bcb.Asb.SecurityResults[0].results = append(bcb.Asb.SecurityResults[0].results, &IDValueTupleByteString{
		id:    SecConResultIDBCBIOPAESGCMAuthenticationTag,
		value: authenticationTag,
	})

	return nil
}

// DecryptTarget recovers the target Payload Block's plaintext, verifying the
// authentication tag as part of the AES-GCM open operation.
func (bcb *BCBIOPAESGCM) DecryptTarget(b Bundle, bcbBlockNumber uint64, privateKey []byte) (err error) {
	securityTargetBlock, err := b.GetExtensionBlockByBlockNumber(bcb.Asb.SecurityTargets[0])
	if err != nil {
		return err
	}

	if securityTargetBlock.Value.BlockTypeCode() != ExtBlockTypePayloadBlock {
		return fmt.Errorf("unsupported security target block type code %d, %s",
			securityTargetBlock.Value.BlockTypeCode(), securityTargetBlock.Value.BlockTypeName())
	}

	plainText, err := bcb.decryptAndAuthenticate(b, securityTargetBlock, bcbBlockNumber, privateKey)
	if err != nil {
		return err
	}

	securityTargetBlock.Value = NewPayloadBlock(plainText)
	securityTargetBlock.CRCType = CRC32

	return
}

func (bcb *BCBIOPAESGCM) decryptAndAuthenticate(b Bundle, targetBlock *CanonicalBlock, number uint64, key []byte) (plainText []byte, err error) {
	aesIVParameter := func() *[]byte {
		for _, scp := range bcb.Asb.SecurityContextParameters {
			if scp.ID() == SecParIdBCBIOPAESGCMIV {
				scpValue := scp.Value().([]byte)
				return &scpValue
			}
		}
		return nil
	}()

	authenticationTag := func() *[]byte {
		for _, scp := range bcb.Asb.SecurityResults[0].results {
			if scp.ID() == SecConResultIDBCBIOPAESGCMAuthenticationTag {
				scpValue := scp.Value().([]byte)
				return &scpValue
			}
		}
		return nil
	}()

	if authenticationTag == nil {
		return nil, fmt.Errorf("authentication tag is missing")
	}
	if aesIVParameter == nil {
		return nil, fmt.Errorf("AES IV security parameter is missing")
	}

	cipherText := targetBlock.Value.(*PayloadBlock).Data()

	aad, err := bcb.prepareAAD(b, targetBlock, number)
	if err != nil {
		return nil, err
	}

	if err = checkKeyLengthAgainstAESVariantParameter(bcb, key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	fullCipherText := append(cipherText, *authenticationTag...)

	plainText, err = gcm.Open(nil, *aesIVParameter, fullCipherText, aad.Bytes())
	if err != nil {
		return nil, err
	}

	return plainText, nil
}
