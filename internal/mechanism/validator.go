package mechanism

import (
	"github.com/miekg/pkcs11"
	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/cryptoutil"
	"hostcryptoki/internal/model"
)

// Operation names which of the four crypto entry points is being
// initialized, since the same mechanism can carry different flags for each.
type Operation int

const (
	OpEncrypt Operation = iota
	OpDecrypt
	OpSign
	OpVerify
)

func (op Operation) flag() uint {
	switch op {
	case OpEncrypt:
		return pkcs11.CKF_ENCRYPT
	case OpDecrypt:
		return pkcs11.CKF_DECRYPT
	case OpSign:
		return pkcs11.CKF_SIGN
	default:
		return pkcs11.CKF_VERIFY
	}
}

// OAEPParams mirrors CK_RSA_PKCS_OAEP_PARAMS: hashAlg and mgf are CKM_*/CKG_*
// identifiers, source/sourceData implement the optional encoding parameter.
type OAEPParams struct {
	HashAlg    uint
	MGF        uint
	SourceType uint
	SourceData []byte
}

// PSSParams mirrors CK_RSA_PKCS_PSS_PARAMS.
type PSSParams struct {
	HashAlg uint
	MGF     uint
	SaltLen int
}

// Declared structure sizes for the "length doesn't equal declared structure
// size" check, matching CK_RSA_PKCS_OAEP_PARAMS and
// CK_RSA_PKCS_PSS_PARAMS layout on a 64-bit host (three/four CK_ULONG fields
// plus, for OAEP, a pointer and length, conventionally 8-byte aligned).
const (
	OAEPParamsSize = 40
	PSSParamsSize  = 24
)

type oaepRow struct {
	hash cryptoutil.HashAlgorithm
	mgf  uint
}

var oaepTable = []oaepRow{
	{cryptoutil.HashSHA1, pkcs11.CKG_MGF1_SHA1},
	{cryptoutil.HashSHA256, pkcs11.CKG_MGF1_SHA256},
	{cryptoutil.HashSHA384, pkcs11.CKG_MGF1_SHA384},
	{cryptoutil.HashSHA512, pkcs11.CKG_MGF1_SHA512},
}

type pssRow struct {
	hash    cryptoutil.HashAlgorithm
	mgf     uint
	saltLen int
}

var pssTable = []pssRow{
	{cryptoutil.HashSHA1, pkcs11.CKG_MGF1_SHA1, 20},
	{cryptoutil.HashSHA256, pkcs11.CKG_MGF1_SHA256, 32},
	{cryptoutil.HashSHA384, pkcs11.CKG_MGF1_SHA384, 48},
	{cryptoutil.HashSHA512, pkcs11.CKG_MGF1_SHA512, 64},
}

// InitOperation validates mech (+ optional params, one of *OAEPParams or
// *PSSParams) against op and keyBits, and resolves the host algorithm
// identifiers a session records on a successful *-init.
func InitOperation(op Operation, mech uint, params any, paramLen int, keyBits int) (model.OpAlgorithms, *ckerror.Error) {
	info, ok := Lookup(mech)
	if !ok {
		return model.OpAlgorithms{}, ckerror.MechanismInvalid(mech)
	}
	if info.Flags&op.flag() == 0 {
		return model.OpAlgorithms{}, ckerror.MechanismInvalid(mech)
	}
	if keyBits < info.MinKeyBits || keyBits > info.MaxKeyBits {
		return model.OpAlgorithms{}, ckerror.KeyTypeInconsistent("key size outside mechanism's supported range")
	}

	outLen := keyBits / 8

	switch mech {
	case pkcs11.CKM_RSA_PKCS:
		return model.OpAlgorithms{Mechanism: mech, SingleShotAlg: mech, ExpectedOutLen: expectedOutLenFor(op, outLen)}, nil

	case pkcs11.CKM_SHA1_RSA_PKCS, pkcs11.CKM_SHA256_RSA_PKCS, pkcs11.CKM_SHA384_RSA_PKCS, pkcs11.CKM_SHA512_RSA_PKCS:
		hashMech, _ := hashMechFor(info.HashAlg)
		return model.OpAlgorithms{
			Mechanism: mech, SingleShotAlg: mech, DigestTakingAlg: mech,
			HashMechanism: hashMech, ExpectedOutLen: expectedOutLenFor(op, outLen),
		}, nil

	case pkcs11.CKM_RSA_PKCS_OAEP:
		oaep, ok := params.(*OAEPParams)
		if !ok || oaep == nil {
			return model.OpAlgorithms{}, ckerror.MechanismParamInvalid("OAEP parameter pointer is null")
		}
		if paramLen != OAEPParamsSize {
			return model.OpAlgorithms{}, ckerror.MechanismParamInvalid("OAEP parameter block has the wrong length")
		}
		if !(oaep.SourceType == 0 || (oaep.SourceType == pkcs11.CKZ_DATA_SPECIFIED && len(oaep.SourceData) == 0)) {
			return model.OpAlgorithms{}, ckerror.MechanismParamInvalid("OAEP source parameter must be absent or empty data-specified")
		}
		hashAlg, err := cryptoutil.HashAlgorithmFromMechanism(oaep.HashAlg)
		if err != nil {
			return model.OpAlgorithms{}, ckerror.MechanismParamInvalid("OAEP hashAlg is not a supported digest mechanism")
		}
		matched := false
		for _, row := range oaepTable {
			if row.hash == hashAlg && row.mgf == oaep.MGF {
				matched = true
				break
			}
		}
		if !matched {
			return model.OpAlgorithms{}, ckerror.MechanismParamInvalid("no registered OAEP hash/MGF combination matches this request")
		}
		hashMech, _ := hashMechFor(hashAlg)
		return model.OpAlgorithms{
			Mechanism: mech, SingleShotAlg: mech, HashMechanism: hashMech,
			ExpectedOutLen: expectedOutLenFor(op, outLen),
		}, nil

	case pkcs11.CKM_RSA_PKCS_PSS, pkcs11.CKM_SHA256_RSA_PKCS_PSS:
		pss, ok := params.(*PSSParams)
		if !ok || pss == nil {
			return model.OpAlgorithms{}, ckerror.MechanismParamInvalid("PSS parameter pointer is null")
		}
		if paramLen != PSSParamsSize {
			return model.OpAlgorithms{}, ckerror.MechanismParamInvalid("PSS parameter block has the wrong length")
		}
		hashAlg, err := cryptoutil.HashAlgorithmFromMechanism(pss.HashAlg)
		if err != nil {
			return model.OpAlgorithms{}, ckerror.MechanismParamInvalid("PSS hashAlg is not a supported digest mechanism")
		}
		matched := false
		for _, row := range pssTable {
			if row.hash == hashAlg && row.mgf == pss.MGF && row.saltLen == pss.SaltLen {
				matched = true
				break
			}
		}
		if !matched {
			return model.OpAlgorithms{}, ckerror.MechanismParamInvalid("no registered PSS hash/MGF/salt-length combination matches this request")
		}
		hashMech, _ := hashMechFor(hashAlg)
		return model.OpAlgorithms{
			Mechanism: mech, SingleShotAlg: mech, DigestTakingAlg: mech,
			HashMechanism: hashMech, ExpectedOutLen: expectedOutLenFor(op, outLen),
		}, nil

	default:
		return model.OpAlgorithms{}, ckerror.MechanismInvalid(mech)
	}
}

// expectedOutLenFor implements the "blocksize-out" rule: encrypt and sign
// outputs are exactly the key's block size; decrypt and verify have no
// statically-known output size.
func expectedOutLenFor(op Operation, blockLen int) int {
	switch op {
	case OpEncrypt, OpSign:
		return blockLen
	default:
		return 0
	}
}

func hashMechFor(alg cryptoutil.HashAlgorithm) (uint, bool) {
	switch alg {
	case cryptoutil.HashSHA1:
		return pkcs11.CKM_SHA_1, true
	case cryptoutil.HashSHA256:
		return pkcs11.CKM_SHA256, true
	case cryptoutil.HashSHA384:
		return pkcs11.CKM_SHA384, true
	case cryptoutil.HashSHA512:
		return pkcs11.CKM_SHA512, true
	default:
		return 0, false
	}
}

// SupportsDigestVariant reports whether mech has a *-update/*-final path, for
// the "mechanism has a digest-taking variant, else data-len-range" rule.
func SupportsDigestVariant(mech uint) bool {
	info, ok := Lookup(mech)
	return ok && info.IsDigestCapable
}
